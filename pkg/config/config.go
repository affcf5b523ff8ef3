package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned by Validate when no Gemini credential was supplied
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port             string
		Env              string
		Timeout          time.Duration
		BaseURL          string
		GRPCPort         string
		ValidateRequests bool
	}

	// Upstream generative AI service
	Gemini struct {
		APIKey     string
		BaseURL    string
		TextModel  string
		ImageModel string
		Timeout    time.Duration
	}

	// Comic generation
	Comic struct {
		MaxScriptLength    int
		ImageStagger       time.Duration
		ImageConcurrency   int
		ImageRatePerMinute int
		ExportTitle        string
	}

	// Chat assistant
	Chat struct {
		AnnounceTimeout time.Duration
	}

	// Studio sessions
	Session struct {
		TTL             time.Duration
		CleanupInterval time.Duration
		JWTSecret       string
		TokenTTL        time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Image cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		PurgeWindow time.Duration
	}

	// Redis session snapshots; disabled when URL is empty
	Redis struct {
		URL         string
		Password    string
		DB          int
		SnapshotTTL time.Duration
	}

	// Postgres comic archive
	Database struct {
		Enabled  bool
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Retries  int
		Timeout  time.Duration
	}

	// Vault fallback for the API key
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	// Metrics and tracing
	Observability struct {
		ServiceName    string
		MetricsEnabled bool
		TracingEnabled bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates the process-wide Config from the environment (and .env if present).
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the current environment without touching the singleton
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")
	cfg.Server.ValidateRequests = getEnvBool("VALIDATE_REQUESTS", true)

	// Gemini config
	cfg.Gemini.APIKey = strings.TrimSpace(getEnvString("GEMINI_API_KEY", ""))
	cfg.Gemini.BaseURL = getEnvString("GEMINI_BASE_URL", "")
	cfg.Gemini.TextModel = getEnvString("GEMINI_TEXT_MODEL", "gemini-2.5-flash")
	cfg.Gemini.ImageModel = getEnvString("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview")
	cfg.Gemini.Timeout = getEnvDuration("GEMINI_TIMEOUT", 2*time.Minute)

	// Comic config
	cfg.Comic.MaxScriptLength = getEnvInt("MAX_SCRIPT_LENGTH", 8000)
	cfg.Comic.ImageStagger = getEnvDuration("IMAGE_STAGGER", 500*time.Millisecond)
	cfg.Comic.ImageConcurrency = getEnvInt("IMAGE_CONCURRENCY", 0)
	cfg.Comic.ImageRatePerMinute = getEnvInt("IMAGE_RATE_PER_MINUTE", 0)
	cfg.Comic.ExportTitle = getEnvString("EXPORT_TITLE", "My Comic Strip")

	// Chat config
	cfg.Chat.AnnounceTimeout = getEnvDuration("ANNOUNCE_TIMEOUT", 30*time.Second)

	// Session config
	cfg.Session.TTL = getEnvDuration("SESSION_TTL", 2*time.Hour)
	cfg.Session.CleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute)
	cfg.Session.JWTSecret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.Session.TokenTTL = getEnvDuration("SESSION_TOKEN_TTL", 24*time.Hour)

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Cache settings
	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 30*time.Minute)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", time.Hour)

	// Redis config
	cfg.Redis.URL = getEnvString("REDIS_URL", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.SnapshotTTL = getEnvDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour)

	// Database config
	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "comic-studio")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Retries = getEnvInt("DB_RETRIES", 5)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Vault config
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "secret/data/comic-studio")

	// Observability config
	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "comic-studio")
	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	return cfg
}

// Validate reports configuration that makes startup impossible
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
