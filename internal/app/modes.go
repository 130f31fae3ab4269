package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketoracle/internal/server"
	"github.com/alanyoungcy/marketoracle/internal/server/handler"
	"github.com/alanyoungcy/marketoracle/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// WatcherMode runs the polling watcher and the audit archive job. No HTTP
// surface is exposed; an external scheduler cannot drive this process.
func (a *App) WatcherMode(ctx context.Context, deps *Dependencies, comps *Components) error {
	a.logger.InfoContext(ctx, "starting watcher mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, comps)
	a.startArchive(ctx, g, comps)
	return g.Wait()
}

// ServerMode serves the HTTP and WebSocket API. Pending markets are only
// processed when an external scheduler calls the check endpoint.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, comps *Components) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, comps)
	a.startArchive(ctx, g, comps)
	return g.Wait()
}

// FullMode runs the watcher, the archive job and, when enabled, the API
// server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, comps *Components) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, comps)
	a.startArchive(ctx, g, comps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, comps)
	}
	return g.Wait()
}

func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, comps *Components) {
	if !a.cfg.Watcher.Enabled {
		a.logger.WarnContext(ctx, "watcher.enabled is false, markets will only resolve via the scheduler endpoint")
		return
	}
	interval := a.cfg.Watcher.Interval.Duration
	g.Go(func() error {
		return ignoreCanceled(comps.Watcher.RunLoop(ctx, interval))
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, comps *Components) {
	if comps.Archive == nil {
		return
	}
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	g.Go(func() error {
		return ignoreCanceled(comps.Archive.RunLoop(ctx, interval))
	})
}

// startHTTPServer registers the API and WebSocket hub and runs them until ctx
// is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, comps *Components) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(healthChecks(deps), a.logger),
		Scheduler: handler.NewSchedulerHandler(comps.Watcher, a.logger),
		Resolve:   handler.NewResolveHandler(comps.Consensus, a.logger),
		Disputes:  handler.NewDisputeHandler(comps.Arbiter, a.logger),
		Stakes:    handler.NewStakeHandler(deps.StakeStore, a.logger),
		Markets: handler.NewMarketHandler(deps.Chain, deps.RoundStore,
			deps.RelayTaskStore, deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		SharedSecret: a.cfg.Server.SharedSecret,
		RateLimit:    a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.SharedSecret == "" {
		a.logger.WarnContext(ctx, "server.shared_secret is empty, operator endpoints will reject every request")
	}

	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// healthChecks pings every backing service the API depends on.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := map[string]handler.Check{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
		"chain": func(ctx context.Context) error {
			_, err := deps.Chain.Verify(ctx)
			return err
		},
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	return checks
}
