package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	State        StateConfig        `mapstructure:"state"`
	Platform     PlatformConfig     `mapstructure:"platform"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Log          LogConfig          `mapstructure:"log"`
}

// StateConfig holds state tracker configuration.
type StateConfig struct {
	// DSN is the SQLite path for persisted deployment records.
	DSN string `mapstructure:"dsn"`
}

// PlatformConfig holds platform gateway configuration.
type PlatformConfig struct {
	// APIURL is the platform's GraphQL endpoint.
	APIURL string `mapstructure:"api_url"`

	// Token is the bearer token for API authentication.
	// Set via FLOTILLA_PLATFORM_TOKEN.
	Token string `mapstructure:"token"`

	// Timeout bounds a single control-plane API call.
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryMax is the retry budget for transient API failures.
	RetryMax int `mapstructure:"retry_max"`

	// HealthTimeout bounds a single health probe.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

// OrchestratorConfig holds orchestration loop configuration.
type OrchestratorConfig struct {
	// Concurrency bounds parallel deploys within a wave.
	Concurrency int `mapstructure:"concurrency"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("state.dsn", "./flotilla-state.db")
	v.SetDefault("platform.api_url", "https://backboard.railway.com/graphql/v2")
	v.SetDefault("platform.token", "")
	v.SetDefault("platform.timeout", "30s")
	v.SetDefault("platform.retry_max", 4)
	v.SetDefault("platform.health_timeout", "10s")
	v.SetDefault("orchestrator.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
