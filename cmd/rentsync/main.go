package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-sync/internal/config"
	"rental-sync/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	timeout time.Duration
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rentsync",
	Short: "Batch jobs for the rental listing store",
	Long: `rentsync runs listing reconciliation and maintenance jobs from a shell
or a scheduler. Every job takes the same market lock and writes the same
sync_runs row as the HTTP API.

Examples:
  rentsync import --market austin --file snapshot.json
  rentsync refresh --market austin
  rentsync geocode --market austin --limit 200`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.App.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(cfg.App.Environment, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "abort the command after this long")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(importCmd, syncCmd, refreshCmd, geocodeCmd, migrateCmd, seedCmd, tokenCmd)
}

// commandContext is canceled by SIGINT/SIGTERM or when --timeout elapses.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
