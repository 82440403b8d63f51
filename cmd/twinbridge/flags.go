package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Validate        bool
}

// bindPersistentFlags registers the flags shared by every subcommand.
func bindPersistentFlags(fs *pflag.FlagSet, cfg *CLIConfig) {
	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("DHSILED_CONFIG", ""),
		"Path to a YAML or JSON configuration file; defaults apply when empty (env: DHSILED_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DHSILED_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: DHSILED_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DHSILED_LOG_FORMAT", "json"),
		"Log format: json, text (env: DHSILED_LOG_FORMAT)")
}

// bindRunFlags registers the flags of the bridge itself.
func bindRunFlags(fs *pflag.FlagSet, cfg *CLIConfig) {
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DHSILED_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: DHSILED_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
