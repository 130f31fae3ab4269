// Package app provides the top-level lifecycle of the oracle daemon. It wires
// the chain client, stores, caches, blob storage and notifications, builds
// the resolution pipeline on top of them and starts the goroutines for the
// configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the
// pipeline, starts the goroutines for the configured mode and blocks until
// the context is cancelled or a goroutine fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("submitter", a.cfg.Submitter.Strategy),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	comps, err := Build(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build pipeline: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "watcher":
		return a.WatcherMode(ctx, deps, comps)
	case "server":
		return a.ServerMode(ctx, deps, comps)
	case "full":
		return a.FullMode(ctx, deps, comps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCanceled maps a clean shutdown to a nil error so errgroup.Wait only
// reports real failures.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
