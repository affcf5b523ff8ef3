package router

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"comic-studio/backend/internal/api"
	"comic-studio/backend/internal/ws"
	"comic-studio/backend/pkg/config"
	"comic-studio/backend/pkg/di"
	"comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/middleware"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Hub         *ws.Hub
	Config      *config.Config
	RateLimiter *middleware.RateLimiter

	upgrader *websocket.Upgrader
}

// New creates a new router with the given container. The caller runs Hub.
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	opts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.RateLimit > 0 {
		opts.Limit = rate.Limit(cfg.Security.RateLimit)
	}
	if cfg.Security.RateLimitBurst > 0 {
		opts.Burst = cfg.Security.RateLimitBurst
	}
	opts.Skip = skipRateLimit
	rateLimiter := middleware.NewRateLimiter(container.Logger, opts)
	engine.Use(rateLimiter.Middleware())

	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	if cfg.Security.MaxBodySize > 0 {
		engine.Use(maxBodySize(cfg.Security.MaxBodySize))
	}

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Hub:         ws.NewHub(container.Registry, container.Logger),
		Config:      cfg,
		RateLimiter: rateLimiter,
		upgrader:    ws.NewUpgrader(cfg.Security.AllowedOrigins),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()
	r.setupDocsRoutes()

	if r.Container.MetricsHandler != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.Container.MetricsHandler))
	}

	sessionAuth := middleware.SessionAuth(r.Container.JWTService)

	v1 := r.Engine.Group("/api/v1")
	if r.Config.Server.ValidateRequests {
		r.addOpenAPIValidation(v1)
	}

	// Public routes (no auth required)
	api.NewAuthHandler(r.Container.Registry, r.Container.JWTService, r.Logger).RegisterRoutes(v1)

	// Protected routes (require a session token)
	protected := v1.Group("")
	protected.Use(sessionAuth)
	api.NewComicHandler(r.Container.Registry, r.Logger).RegisterRoutes(protected)
	api.NewMessageHandler(r.Container.Registry, r.Logger).RegisterRoutes(protected)

	r.Engine.GET("/ws", sessionAuth, func(c *gin.Context) {
		ws.ServeWs(r.Hub, r.upgrader, c)
	})
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.RateLimiter.Stop()
}

func skipRateLimit(c *gin.Context) bool {
	p := c.Request.URL.Path
	return p == "/health" || p == "/metrics" || p == "/ws" ||
		strings.HasSuffix(p, "/health") || strings.HasPrefix(p, "/api/docs")
}

// corsMiddleware allows the configured origins and the headers WebSocket
// upgrades and SSE need
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case origin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case wildcard || slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, Content-Disposition")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func maxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
