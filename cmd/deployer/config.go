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
	Log    LogConfig    `mapstructure:"log"`
	CLI    CLIConfig    `mapstructure:"cli"`
	Retry  RetryConfig  `mapstructure:"retry"`
	Batch  BatchConfig  `mapstructure:"batch"`
	RPC    RPCConfig    `mapstructure:"rpc"`
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CLIConfig holds the contract CLI settings.
type CLIConfig struct {
	// Bin is the CLI binary name or path.
	Bin string `mapstructure:"bin"`

	// ExtraPath entries are prepended to PATH when spawning the CLI.
	ExtraPath []string `mapstructure:"extra_path"`

	BuildTimeout   time.Duration `mapstructure:"build_timeout"`
	DeployTimeout  time.Duration `mapstructure:"deploy_timeout"`
	TimeoutWarning time.Duration `mapstructure:"timeout_warning"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// RetryConfig shapes the per-deployment retry schedule.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         bool          `mapstructure:"jitter"`
	HistoryLimit   int           `mapstructure:"history_limit"`
}

// BatchConfig holds batch execution defaults.
type BatchConfig struct {
	Mode        string `mapstructure:"mode"`
	Concurrency int    `mapstructure:"concurrency"`
}

// RPCConfig holds the Soroban RPC client settings.
type RPCConfig struct {
	// URL overrides the well-known endpoint for the target network.
	URL string `mapstructure:"url"`

	RateLimitInitialBackoff time.Duration `mapstructure:"rate_limit_initial_backoff"`
	RateLimitMaxBackoff     time.Duration `mapstructure:"rate_limit_max_backoff"`
	RateLimitMaxRetries     int           `mapstructure:"rate_limit_max_retries"`
}

// ServerConfig holds the status API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("cli.bin", "stellar")
	v.SetDefault("cli.build_timeout", "10m")
	v.SetDefault("cli.deploy_timeout", "5m")
	v.SetDefault("cli.timeout_warning", "30s")
	v.SetDefault("cli.max_output_bytes", 1<<20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.attempt_timeout", "5m")
	v.SetDefault("retry.initial_delay", "2s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.history_limit", 50)
	v.SetDefault("batch.mode", "sequential")
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("rpc.url", "")
	v.SetDefault("rpc.rate_limit_initial_backoff", "1s")
	v.SetDefault("rpc.rate_limit_max_backoff", "60s")
	v.SetDefault("rpc.rate_limit_max_retries", 3)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8700)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

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
	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
