package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/marketoracle/internal/app"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one pending-resolution pass and exit",
	Long: "Run a single CheckPendingResolutions pass against the configured chain,\n" +
		"for cron-style scheduling without the HTTP server.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	comps, err := app.Build(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}

	stats, err := comps.Watcher.CheckPendingResolutions(ctx)
	if err != nil {
		return fmt.Errorf("check pending resolutions: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
