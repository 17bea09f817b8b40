// Package config provides configuration structures and loading logic
// for the orchestration service.
package config

import (
	"fmt"
	"os"

	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/logging"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/stream"
	"github.com/majorfree/agentd/pkg/supervisor"
	"github.com/majorfree/agentd/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the service.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Logging    logging.Config          `yaml:"logging"`
	Tracing    telemetry.TracingConfig `yaml:"tracing"`
	Engine     engine.Config           `yaml:"engine"`
	Supervisor supervisor.Config       `yaml:"supervisor"`
	Session    session.Config          `yaml:"session"`
	Stream     stream.Config           `yaml:"stream"`
	Completer  CompleterConfig         `yaml:"completer"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address                 string `yaml:"address"`
	ShutdownTimeoutSeconds  int    `yaml:"shutdown_timeout_seconds"`
	ReadHeaderTimeoutSecond int    `yaml:"read_header_timeout_seconds"`
}

// CompleterConfig holds configuration for the LLM backend.
type CompleterConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Load reads configuration from a file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:                 ":8000",
			ShutdownTimeoutSeconds:  15,
			ReadHeaderTimeoutSecond: 10,
		},
		Logging:    logging.DefaultConfig(),
		Tracing:    telemetry.DefaultTracingConfig(),
		Engine:     engine.DefaultConfig(),
		Supervisor: supervisor.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Stream:     stream.DefaultConfig(),
		Completer: CompleterConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 90,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AGENTD_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("AGENTD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AGENTD_OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
		cfg.Tracing.Enabled = true
	}
	if val := os.Getenv("REDIS_URL"); val != "" {
		cfg.Session.RedisURL = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Session.DatabaseURL = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		cfg.Completer.APIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		cfg.Completer.BaseURL = val
	}
	if val := os.Getenv("AGENTD_HANDLERS_FILE"); val != "" {
		cfg.Supervisor.HandlersFile = val
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if c.Session.CacheTTLSeconds < 0 {
		return fmt.Errorf("session cache TTL must not be negative")
	}
	if c.Supervisor.HealthRetries <= 0 {
		return fmt.Errorf("supervisor health retries must be positive")
	}
	if c.Engine.InvocationTimeoutSeconds <= 0 {
		return fmt.Errorf("engine invocation timeout must be positive")
	}
	return nil
}
