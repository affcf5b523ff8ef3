package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/resilience"
)

func TestCriticalComponentDownMakesSystemUnhealthy(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	var redisErr error
	c.RegisterPingCheck("redis", true, func(context.Context) error { return redisErr })
	c.RegisterPingCheck("database", false, func(context.Context) error { return errors.New("refused") })

	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy(), "non-critical failures do not matter")
	assert.Equal(t, StatusDown, c.GetStatus()["database"].Status)

	redisErr = errors.New("timeout")
	c.RunChecks(context.Background())
	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, "timeout", c.GetStatus()["redis"].Error)
}

func TestBreakerCheck(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "gemini",
		FailureThreshold: 1,
		RetryTimeout:     time.Hour,
	}, logger.Discard())

	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterBreakerCheck("gemini", breaker)

	c.RunChecks(context.Background())
	assert.Equal(t, StatusUp, c.GetStatus()["gemini"].Status)

	require.NoError(t, breaker.Allow())
	breaker.Record(errors.New("503"))
	c.RunChecks(context.Background())
	assert.Equal(t, StatusDown, c.GetStatus()["gemini"].Status)
	assert.True(t, c.IsSystemHealthy(), "an open breaker degrades but does not take the service down")
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterPingCheck("redis", true, func(context.Context) error { return errors.New("down") })
	c.RunChecks(context.Background())

	r := gin.New()
	r.GET("/health", c.Handler("test", func() map[string]any { return map[string]any{"sessions": 2} }))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var report Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, StatusDown, report.Components["redis"].Status)
	assert.EqualValues(t, 2, report.Extra["sessions"])
}

func TestGRPCServerFollowsChecker(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	var pingErr error
	c.RegisterPingCheck("redis", true, func(context.Context) error { return pingErr })
	c.RunChecks(context.Background())

	s := NewGRPCServer(c, "comic-studio")
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "comic-studio"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	pingErr = errors.New("down")
	c.RunChecks(context.Background())
	resp, err = s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
