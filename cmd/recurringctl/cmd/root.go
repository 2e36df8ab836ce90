// Package cmd provides the recurringctl commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"example.com/recurring/internal/config"
	"example.com/recurring/internal/logger"
)

type rootOptions struct {
	envFiles []string
	debug    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "recurringctl",
		Short: "Operate the recurring transaction engine",
		Long: `recurringctl runs the recurring transaction engine once against the
configured store, or applies the store schema.

Example:
  recurringctl run --today 2024-03-15
  recurringctl migrate`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load (default is .env when present)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCmd(opts), newMigrateCmd(opts), newOutboxCmd(opts))
	return root
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	level := cfg.LogLevel
	if o.debug {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Format: "console", Output: cmd.ErrOrStderr()})
	return cfg, log, nil
}
