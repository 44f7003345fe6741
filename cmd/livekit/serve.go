package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/panyam/livekit/config"
	"github.com/panyam/livekit/metrics"
	"github.com/panyam/livekit/server"
)

type serveOptions struct {
	*rootOptions
	Addr             string
	DBPath           string
	OperationTimeout time.Duration
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the livekit server",
		Long: `Run the livekit server.

Settings come from the environment (LIVEKIT_*, LOG_LEVEL), optionally loaded
from .env, and flags override them.

Example:
  livekit serve --addr :8080 --db ./livekit.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func (o *serveOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Addr, "addr", "", "listen address (overrides LIVEKIT_ADDR)")
	flags.StringVar(&o.DBPath, "db", "", "SQLite database for notes (overrides LIVEKIT_DB_PATH)")
	flags.DurationVar(&o.OperationTimeout, "operation-timeout", 0, "deadline for one-shot operations (overrides LIVEKIT_OPERATION_TIMEOUT)")
}

// apply overlays the flags set on the command line onto cfg. --log-level
// only wins over LOG_LEVEL when given explicitly.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.LogLevel = o.LogLevel
	}
	if o.Addr != "" {
		cfg.Addr = o.Addr
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if cmd.Flags().Changed("operation-timeout") {
		cfg.OperationTimeout = o.OperationTimeout
	}
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts.apply(cmd, cfg)
	opts.LogLevel = cfg.LogLevel
	logger := opts.logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, server.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.WithError(err).Warn("Error while closing server")
		}
	}()
	return srv.ListenAndServe(ctx)
}
