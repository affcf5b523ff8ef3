package health

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer mirrors the checker over the standard gRPC health protocol
type GRPCServer struct {
	server *grpc.Server
	health *grpchealth.Server
}

// NewGRPCServer creates a gRPC server whose health service follows c
func NewGRPCServer(c *Checker, service string) *GRPCServer {
	s := &GRPCServer{
		server: grpc.NewServer(),
		health: grpchealth.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)

	set := func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus("", status)
		if service != "" {
			s.health.SetServingStatus(service, status)
		}
	}
	set(c.IsSystemHealthy())
	c.OnChange(set)
	return s
}

// Serve listens on port until ctx is canceled
func (s *GRPCServer) Serve(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	return s.server.Serve(lis)
}

// Health exposes the health service, mainly for tests
func (s *GRPCServer) Health() healthpb.HealthServer {
	return s.health
}
