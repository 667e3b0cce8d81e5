package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgate/internal/config"
	"github.com/JakeFAU/crawlgate/internal/logging"
	"github.com/JakeFAU/crawlgate/internal/server"
)

// errInvalidKey makes check-key exit non-zero for a key the registry rejects.
var errInvalidKey = errors.New("key is not valid")

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "crawlgate",
		Short: "Authenticated gateway in front of a web crawl engine.",
		Long: `crawlgate validates API keys against a remote key registry, caches the
verdicts, and runs link extraction and markdown generation for admitted callers
under a per-request deadline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (env CRAWLGATE_* overrides)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCheckKeyCmd(opts))
	return cmd
}

// setup loads config and builds the logger shared by every subcommand.
func setup(opts *rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	// Syncing stderr fails on some platforms; nothing useful can be done about it.
	_ = logger.Sync()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := server.Build(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newCheckKeyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-key <api-key>",
		Short: "Validate an API key against the configured registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			app, err := server.Build(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer app.Close()

			valid, err := app.Gate().Check(ctx, args[0])
			if err != nil {
				return fmt.Errorf("check key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %t\n", valid)
			if !valid {
				return errInvalidKey
			}
			return nil
		},
	}
}
