package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, 15, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, 120, cfg.Engine.InvocationTimeoutSeconds)
	assert.False(t, cfg.Engine.FanOutConcurrent)
	assert.Equal(t, 1800, cfg.Session.CacheTTLSeconds)
	assert.Equal(t, "gpt-4o-mini", cfg.Completer.Model)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
engine:
  invocation_timeout_seconds: 30
  fan_out_concurrent: true
session:
  cache_ttl_seconds: 600
supervisor:
  handlers_file: /etc/agentd/handlers.yaml
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 30, cfg.Engine.InvocationTimeoutSeconds)
	assert.True(t, cfg.Engine.FanOutConcurrent)
	assert.Equal(t, 600, cfg.Session.CacheTTLSeconds)
	assert.Equal(t, "/etc/agentd/handlers.yaml", cfg.Supervisor.HandlersFile)

	// Untouched sections keep their defaults.
	assert.Equal(t, 15, cfg.Server.ShutdownTimeoutSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTD_ADDR", ":7070")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("DATABASE_URL", "postgres://db:5432/agentd")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENTD_OTLP_ENDPOINT", "otel:4318")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "redis://cache:6379/0", cfg.Session.RedisURL)
	assert.Equal(t, "postgres://db:5432/agentd", cfg.Session.DatabaseURL)
	assert.Equal(t, "sk-test", cfg.Completer.APIKey)
	assert.Equal(t, "otel:4318", cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.Enabled, "setting an OTLP endpoint enables tracing")
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9090\"\n"), 0o644))

	t.Setenv("AGENTD_ADDR", ":7071")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7071", cfg.Server.Address)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Address = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Session.CacheTTLSeconds = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Supervisor.HealthRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Engine.InvocationTimeoutSeconds = 0
	assert.Error(t, cfg.Validate())
}
