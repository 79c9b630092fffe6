package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-enough-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Equal(t, 20, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 10.0, cfg.ConnectionRate)
	assert.Equal(t, 10, cfg.ConnectionBurst)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET is required")
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.ErrorContains(t, err, "at least 16 characters")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-enough-secret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONNECTIONS", "500")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "5")
	t.Setenv("CONNECTION_RATE", "2.5")
	t.Setenv("CONNECTION_BURST", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://loom.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(500), cfg.MaxConnections)
	assert.Equal(t, 5, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 2.5, cfg.ConnectionRate)
	assert.Equal(t, 3, cfg.ConnectionBurst)
	assert.Equal(t, "https://loom.example.com", cfg.AllowedOrigins)
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-enough-secret")
	t.Setenv("MAX_CONNECTIONS", "lots")

	_, err := Load()
	assert.ErrorContains(t, err, "MAX_CONNECTIONS")
}

func TestLoad_RejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-long-enough-secret")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "must be positive")
}
