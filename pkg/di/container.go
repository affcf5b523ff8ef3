package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"comic-studio/backend/internal/chat"
	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/notify"
	"comic-studio/backend/internal/store"
	"comic-studio/backend/internal/studio"
	"comic-studio/backend/pkg/cache"
	"comic-studio/backend/pkg/config"
	"comic-studio/backend/pkg/health"
	"comic-studio/backend/pkg/jwt"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/observability"
	"comic-studio/backend/pkg/resilience"
)

const healthCheckPeriod = 30 * time.Second

// Generator is everything the studio asks of the AI service
type Generator interface {
	comic.Generator
	chat.Client
	images.Generator
}

// Container holds all the dependencies for the application
type Container struct {
	Config         *config.Config
	Logger         *logger.Logger
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Breaker        *resilience.CircuitBreaker
	Generator      Generator
	Comics         *comic.Orchestrator
	Images         *images.Fetcher
	Registry       *studio.Registry
	JWTService     *jwt.Service
	Health         *health.Checker

	// Optional persistence; nil when not configured
	Redis     *redis.Client
	Snapshots *store.SnapshotStore
	DB        *gorm.DB
	Archive   *store.ComicArchive

	closers []func(context.Context) error
}

// Option customizes container construction
type Option func(*options)

type options struct {
	generator Generator
}

// WithGenerator replaces the Gemini client, primarily for tests
func WithGenerator(gen Generator) Option {
	return func(o *options) { o.generator = gen }
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		Config:     cfg,
		Logger:     log,
		Metrics:    observability.Noop(),
		JWTService: jwt.NewService(cfg.Session.JWTSecret, cfg.Session.TokenTTL),
		Health:     health.NewChecker(log, healthCheckPeriod),
	}

	if err := c.initObservability(); err != nil {
		return nil, err
	}

	breakerConfig := resilience.DefaultCircuitBreakerConfig("gemini")
	breakerConfig.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", string(from), "to", string(to))
	}
	c.Breaker = resilience.NewCircuitBreaker(breakerConfig, log)
	c.Health.RegisterBreakerCheck("gemini", c.Breaker)

	c.Generator = o.generator
	if c.Generator == nil {
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.Gemini.APIKey,
			BaseURL:    cfg.Gemini.BaseURL,
			TextModel:  cfg.Gemini.TextModel,
			ImageModel: cfg.Gemini.ImageModel,
			Timeout:    cfg.Gemini.Timeout,
		}, c.Breaker, c.Metrics, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		c.Generator = client
	}

	var imageCache *cache.Cache[string]
	if cfg.Cache.Enabled {
		imageCache = cache.New[string](cfg.Cache.TTL, cfg.Cache.PurgeWindow)
	}

	c.Comics = comic.NewOrchestrator(c.Generator, cfg.Comic.MaxScriptLength, log)
	c.Images = images.NewFetcher(c.Generator, images.Options{
		Stagger:       cfg.Comic.ImageStagger,
		Concurrency:   cfg.Comic.ImageConcurrency,
		RatePerMinute: cfg.Comic.ImageRatePerMinute,
		Cache:         imageCache,
		Model:         cfg.Gemini.ImageModel,
		Metrics:       c.Metrics,
		Logger:        log,
	})

	deps := studio.Deps{
		Comics:          c.Comics,
		Chat:            c.Generator,
		Images:          c.Images,
		Notifier:        notify.Log(log),
		Metrics:         c.Metrics,
		Logger:          log,
		AnnounceTimeout: cfg.Chat.AnnounceTimeout,
		ExportTitle:     cfg.Comic.ExportTitle,
	}

	if err := c.initSnapshots(); err != nil {
		c.Close(ctx)
		return nil, err
	}
	if c.Snapshots != nil {
		deps.Snapshots = c.Snapshots
	}

	if err := c.initArchive(); err != nil {
		c.Close(ctx)
		return nil, err
	}
	if c.Archive != nil {
		deps.Archive = c.Archive
	}

	c.Registry = studio.NewRegistry(deps, cfg.Session.TTL, cfg.Session.CleanupInterval)
	c.closers = append(c.closers, func(context.Context) error {
		c.Registry.Close()
		return nil
	})

	return c, nil
}

func (c *Container) initObservability() error {
	obs := c.Config.Observability

	if obs.TracingEnabled {
		shutdown, err := observability.SetupTracing(obs.ServiceName)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, shutdown)
	}

	if !obs.MetricsEnabled {
		return nil
	}

	mp, handler, err := observability.SetupPrometheusMetrics(obs.ServiceName)
	if err != nil {
		return err
	}
	metrics, err := observability.NewMetrics(mp)
	if err != nil {
		return err
	}
	c.Metrics = metrics
	c.MetricsHandler = handler
	c.closers = append(c.closers, mp.Shutdown)
	return nil
}

func (c *Container) initSnapshots() error {
	if c.Config.Redis.URL == "" {
		return nil
	}

	client, err := store.NewRedisClient(store.RedisOptions{
		URL:      c.Config.Redis.URL,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}

	c.Redis = client
	c.Snapshots = store.NewSnapshotStore(client, c.Config.Redis.SnapshotTTL)
	c.Health.RegisterPingCheck("redis", false, c.Snapshots.Ping)
	c.closers = append(c.closers, func(context.Context) error { return c.Snapshots.Close() })
	return nil
}

func (c *Container) initArchive() error {
	if !c.Config.Database.Enabled {
		return nil
	}

	db, err := config.NewDB(c.Config, c.Logger)
	if err != nil {
		return err
	}

	archive := store.NewComicArchive(db)
	if err := archive.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate comic archive: %w", err)
	}

	c.DB = db
	c.Archive = archive
	c.Health.RegisterPingCheck("database", false, archive.Ping)
	c.closers = append(c.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return nil
}

// Close releases resources in reverse order of creation
func (c *Container) Close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			c.Logger.LogError(err, "failed to release resource")
		}
	}
	c.closers = nil
}
