package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/marketoracle/internal/app"
)

var runFlags struct {
	mode string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the oracle daemon",
	Long:  "Run the oracle in watcher, server or full mode until SIGINT or SIGTERM.",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.mode, "mode", "", "override the configured mode (watcher, server, full)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.mode != "" {
		cfg.Mode = runFlags.mode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	logger.Info("oracle starting",
		slog.String("version", version),
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("oracle stopped")
	return nil
}
