package main

import (
	"github.com/spf13/cobra"

	"github.com/panyam/livekit/config"
	"github.com/panyam/livekit/logging"
)

type rootOptions struct {
	LogLevel string
}

func (o *rootOptions) logger() logging.Logger {
	return logging.NewLoggerWithService("livekit", o.LogLevel)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "livekit",
		Short:         "Live GraphQL over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(nil)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	return cmd
}
