package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viking/cactuar/pkg/session"
	"github.com/viking/cactuar/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Session       SessionConfig
	Upstream      UpstreamConfig
	Mail          MailConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the externally visible root of the provider. Identity
	// URLs and the assertion endpoint are derived from it, so it must
	// match what relying parties see.
	BaseURL string
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	// Backend selects "sql" or "redis"
	Backend string
	TTL     time.Duration

	// Secure marks the cookie Secure; enable behind TLS
	Secure bool

	// CleanupSchedule is a cron expression for the expired-session
	// sweep, used with the SQL backend
	CleanupSchedule string

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// UpstreamConfig holds the optional delegated login provider
type UpstreamConfig struct {
	Enabled      bool
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AutoCreate   bool
}

// MailConfig holds invitation mail delivery settings
type MailConfig struct {
	Enabled  bool
	Addr     string
	From     string
	Username string
	Password string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Session:       loadSessionConfig(),
		Upstream:      loadUpstreamConfig(),
		Mail:          loadMailConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CACTUAR_HOST", "0.0.0.0"),
		Port:            getEnv("CACTUAR_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CACTUAR_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CACTUAR_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CACTUAR_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CACTUAR_SHUTDOWN_TIMEOUT", 30*time.Second),
		BaseURL:         strings.TrimRight(getEnv("CACTUAR_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadDatabaseConfig() storage.Config {
	return storage.Config{
		Driver:      storage.Dialect(getEnv("CACTUAR_DB_DRIVER", string(storage.DialectSQLite))),
		URL:         getEnv("CACTUAR_DB_URL", "cactuar.db"),
		MaxConns:    getEnvInt("CACTUAR_DB_MAX_CONNS", 10),
		MaxIdle:     getEnvInt("CACTUAR_DB_MAX_IDLE", 5),
		MaxLifetime: getEnvDuration("CACTUAR_DB_MAX_LIFETIME", time.Hour),
		Timeout:     getEnvDuration("CACTUAR_DB_TIMEOUT", 5*time.Second),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:         getEnv("CACTUAR_SESSION_BACKEND", "sql"),
		TTL:             getEnvDuration("CACTUAR_SESSION_TTL", session.DefaultTTL),
		Secure:          getEnvBool("CACTUAR_SESSION_SECURE", false),
		CleanupSchedule: getEnv("CACTUAR_SESSION_CLEANUP_SCHEDULE", "@hourly"),
		RedisURL:        getEnv("CACTUAR_REDIS_URL", "localhost:6379"),
		RedisPassword:   getEnv("CACTUAR_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("CACTUAR_REDIS_DB", 0),
	}
}

func loadUpstreamConfig() UpstreamConfig {
	cfg := UpstreamConfig{
		Enabled:      getEnvBool("CACTUAR_UPSTREAM_ENABLED", false),
		Name:         getEnv("CACTUAR_UPSTREAM_NAME", "oidc"),
		IssuerURL:    getEnv("CACTUAR_UPSTREAM_ISSUER_URL", ""),
		ClientID:     getEnv("CACTUAR_UPSTREAM_CLIENT_ID", ""),
		ClientSecret: getEnv("CACTUAR_UPSTREAM_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("CACTUAR_UPSTREAM_REDIRECT_URL", ""),
		AutoCreate:   getEnvBool("CACTUAR_UPSTREAM_AUTO_CREATE", false),
	}
	if scopes := getEnv("CACTUAR_UPSTREAM_SCOPES", ""); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Scopes = append(cfg.Scopes, s)
			}
		}
	}
	return cfg
}

func loadMailConfig() MailConfig {
	return MailConfig{
		Enabled:  getEnvBool("CACTUAR_MAIL_ENABLED", false),
		Addr:     getEnv("CACTUAR_MAIL_ADDR", "localhost:25"),
		From:     getEnv("CACTUAR_MAIL_FROM", "cactuar@localhost"),
		Username: getEnv("CACTUAR_MAIL_USERNAME", ""),
		Password: getEnv("CACTUAR_MAIL_PASSWORD", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("CACTUAR_LOG_LEVEL", "info"),
		LogFormat:      getEnv("CACTUAR_LOG_FORMAT", "text"),
		MetricsEnabled: getEnvBool("CACTUAR_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL: %q", c.Server.BaseURL)
	}

	switch c.Database.Driver {
	case storage.DialectSQLite, storage.DialectPostgres:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)",
			c.Database.Driver, storage.DialectSQLite, storage.DialectPostgres)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Session.Backend {
	case "sql":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s (must be sql or redis)", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Upstream.Enabled {
		if c.Upstream.IssuerURL == "" {
			return fmt.Errorf("upstream issuer URL is required when the upstream is enabled")
		}
		if c.Upstream.ClientID == "" || c.Upstream.ClientSecret == "" {
			return fmt.Errorf("upstream client credentials are required when the upstream is enabled")
		}
		if c.Upstream.RedirectURL == "" {
			return fmt.Errorf("upstream redirect URL is required when the upstream is enabled")
		}
	}

	if c.Mail.Enabled && c.Mail.Addr == "" {
		return fmt.Errorf("mail server address is required when mail is enabled")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
