package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/twinbridge/config"
)

func newRootCommand() *cobra.Command {
	cli := &CLIConfig{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Relay grid events from the broker into the digital twin store.",
		Long: `twinbridge subscribes to grid status, alert and health events on the broker,
reconciles them into one digital twin per grid, escalates critical alerts to the
twin store inbox and rebroadcasts reconciled state to dashboard observers.

Configuration is optional: built-in defaults apply, then the file given with
--config (YAML or JSON), then DHSILED_* environment variables.`,
		Example: `  # Run with a configuration file
  twinbridge --config=/etc/twinbridge/bridge.yaml

  # Run with debug logging
  twinbridge --log-level=debug --log-format=text

  # Validate configuration only
  twinbridge --config=bridge.yaml --validate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cli)
		},
	}

	bindPersistentFlags(root.PersistentFlags(), cli)
	bindRunFlags(root.Flags(), cli)

	root.AddCommand(newVersionCommand(), newTwinsCommand(cli))
	return root
}

func run(ctx context.Context, cli *CLIConfig) error {
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(os.Stdout, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	logger.Info("Starting twinbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)
	logger.Debug("Effective configuration", "config", cfg.String())

	b, err := newBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.run(signalCtx, cli.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("twinbridge shutdown complete")
	return nil
}

// loadConfig layers path, when given, over the defaults and validates the
// result.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
