// Package server exposes the oracle's HTTP and websocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/server/handler"
	"github.com/alanyoungcy/marketoracle/internal/server/middleware"
	"github.com/alanyoungcy/marketoracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// SharedSecret guards the operator endpoints; empty disables auth.
	SharedSecret string
	// RateLimit is requests per minute per client on the resolve and vote
	// endpoints; 0 disables it.
	RateLimit int
}

// Handlers aggregates the HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Scheduler *handler.SchedulerHandler
	Resolve   *handler.ResolveHandler
	Disputes  *handler.DisputeHandler
	Stakes    *handler.StakeHandler
	Markets   *handler.MarketHandler
}

// Server is the oracle's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	admin := middleware.Auth(cfg.SharedSecret, logger)
	limited := func(bucket string) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, bucket, cfg.RateLimit, time.Minute, logger)
	}
	route := func(pattern string, h http.HandlerFunc, wrap ...func(http.Handler) http.Handler) {
		var hh http.Handler = h
		for i := len(wrap) - 1; i >= 0; i-- {
			hh = wrap[i](hh)
		}
		mux.Handle(pattern, hh)
	}

	if handlers.Health != nil {
		route("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Scheduler != nil {
		route("POST /api/scheduler/check", handlers.Scheduler.Check, admin)
	}
	if handlers.Resolve != nil {
		route("POST /api/resolve", handlers.Resolve.Resolve, limited("resolve"), admin)
	}
	if handlers.Disputes != nil {
		route("GET /api/disputes/{marketId}/tally", handlers.Disputes.Tally)
		// Ballots are authenticated by the voter's signature.
		route("POST /api/disputes/{marketId}/votes", handlers.Disputes.CastVote, limited("votes"))
		route("POST /api/disputes/{marketId}/finalize", handlers.Disputes.Finalize, admin)
	}
	if handlers.Stakes != nil {
		route("GET /api/stakes/{address}", handlers.Stakes.GetStake)
		route("PUT /api/stakes/{address}", handlers.Stakes.PutStake, admin)
	}
	if handlers.Markets != nil {
		route("GET /api/markets/{id}", handlers.Markets.GetMarket)
		route("GET /api/markets/{id}/rounds", handlers.Markets.ListRounds)
		route("GET /api/markets/{id}/relay-tasks", handlers.Markets.ListRelayTasks)
		route("GET /api/audit", handlers.Markets.ListAudit, admin)
	}
	if hub != nil {
		route("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Resolve waits for a full consensus round.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
