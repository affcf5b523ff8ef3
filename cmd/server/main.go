package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comic-studio/backend/pkg/config"
	"comic-studio/backend/pkg/di"
	"comic-studio/backend/pkg/health"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/router"
	"comic-studio/backend/pkg/secrets"
)

const grpcServiceName = "comicstudio.v1.Studio"

func main() {
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The API key comes from the environment or, failing that, Vault
	if err := secrets.ResolveAPIKey(ctx, cfg, log); err != nil {
		log.LogError(err, "Invalid configuration")
		os.Exit(1)
	}

	// Initialize dependency injection container
	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	go r.Hub.Run(ctx)
	container.Health.Start(ctx)

	if cfg.Server.GRPCPort != "" {
		grpcServer := health.NewGRPCServer(container.Health, grpcServiceName)
		go func() {
			if err := grpcServer.Serve(ctx, cfg.Server.GRPCPort); err != nil {
				log.LogError(err, "gRPC health server stopped", "port", cfg.Server.GRPCPort)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	r.Close()
	container.Close(shutdownCtx)

	log.Info("Server exited gracefully")
}
