package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking/cactuar/pkg/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, storage.DialectSQLite, cfg.Database.Driver)
	assert.Equal(t, "sql", cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Upstream.Enabled)
	assert.False(t, cfg.Mail.Enabled)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CACTUAR_PORT", "9999")
	t.Setenv("CACTUAR_BASE_URL", "https://id.example.com/")
	t.Setenv("CACTUAR_DB_DRIVER", "postgres")
	t.Setenv("CACTUAR_DB_URL", "postgres://localhost/cactuar?sslmode=disable")
	t.Setenv("CACTUAR_SESSION_BACKEND", "redis")
	t.Setenv("CACTUAR_REDIS_URL", "redis.internal:6379")
	t.Setenv("CACTUAR_SESSION_TTL", "2h")
	t.Setenv("CACTUAR_UPSTREAM_SCOPES", "openid, profile ,email")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	// trailing slash is stripped so URL concatenation stays simple
	assert.Equal(t, "https://id.example.com", cfg.Server.BaseURL)
	assert.Equal(t, storage.DialectPostgres, cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Session.RedisURL)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Upstream.Scopes)
}

func TestValidate(t *testing.T) {
	t.Run("bad driver", func(t *testing.T) {
		t.Setenv("CACTUAR_DB_DRIVER", "oracle")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "invalid database driver")
	})

	t.Run("bad session backend", func(t *testing.T) {
		t.Setenv("CACTUAR_SESSION_BACKEND", "memcached")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "invalid session backend")
	})

	t.Run("bad base URL", func(t *testing.T) {
		t.Setenv("CACTUAR_BASE_URL", "not a url")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "invalid base URL")
	})

	t.Run("upstream needs credentials", func(t *testing.T) {
		t.Setenv("CACTUAR_UPSTREAM_ENABLED", "true")
		t.Setenv("CACTUAR_UPSTREAM_ISSUER_URL", "https://accounts.example.com")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "client credentials")
	})

	t.Run("malformed durations fall back to defaults", func(t *testing.T) {
		t.Setenv("CACTUAR_SESSION_TTL", "soon")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	})
}
