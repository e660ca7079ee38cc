package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: t.Parallel() is intentionally omitted in this package.
// These tests share process-global environment variables.

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "HS256", cfg.Auth.JWTAlg)
	assert.Equal(t, 60, cfg.Auth.AccessTokenMinutes)
	assert.Equal(t, 30, cfg.Auth.RefreshTokenDays)
	assert.Equal(t, "https://api.edamam.com", cfg.FoodDatabase.BaseURL)
	assert.Equal(t, "https://world.openfoodfacts.org", cfg.OpenFoodFact.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.OpenFoodFact.Timeout())
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 2, cfg.OpenAI.MaxOutputTokenRetries)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgresql+psycopg://u:p@db:5432/torvix")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ACCESS_TOKEN_MINUTES", "15")
	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db:5432/torvix", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAI.Model)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TORVIX_SERVER_PORT", "7070")
	t.Setenv("TORVIX_NATS_URL", "nats://custom:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "nats://custom:4222", cfg.NATS.URL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8123\nauth:\n  jwt_secret: from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.Auth.JWTSecret = "secret"
	cfg.Database.URL = "postgres://localhost/torvix"
	assert.NoError(t, cfg.Validate())

	cfg.Auth.JWTAlg = "RS256"
	assert.Error(t, cfg.Validate())
}

func TestNormalizeDatabaseURL(t *testing.T) {
	tests := map[string]string{
		"postgresql+psycopg://u:p@h/db": "postgres://u:p@h/db",
		"postgresql://u:p@h/db":         "postgres://u:p@h/db",
		"postgres://u:p@h/db":           "postgres://u:p@h/db",
		"":                              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDatabaseURL(in), in)
	}
}
