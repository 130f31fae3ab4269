// Package watcher polls the market contract for markets awaiting
// resolution and drives each one through consensus and submission.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// ChainVerifier confirms the market contract is reachable.
type ChainVerifier interface {
	Verify(ctx context.Context) (*big.Int, error)
}

// Resolver runs one consensus round.
type Resolver interface {
	GetConsensus(ctx context.Context, req domain.ResolutionRequest, threshold float64) (domain.ConsensusResult, error)
}

// Submitter writes an accepted resolution on-chain.
type Submitter interface {
	Submit(ctx context.Context, marketID string, outcome domain.Outcome, confidence int) (domain.TxReceipt, error)
}

// Emitter receives pipeline events.
type Emitter interface {
	Emit(ctx context.Context, ev domain.PipelineEvent)
}

// Config tunes the watcher.
type Config struct {
	Threshold     float64
	MaxConcurrent int
}

// Watcher is the poll-and-diff driver of the resolution pipeline.
type Watcher struct {
	cfg       Config
	markets   domain.MarketReader
	verifier  ChainVerifier
	resolver  Resolver
	submitter Submitter
	events    Emitter
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	initialized bool
	chainID     *big.Int
}

// New creates a Watcher. events may be nil.
func New(cfg Config, markets domain.MarketReader, verifier ChainVerifier, resolver Resolver, submitter Submitter, events Emitter, logger *slog.Logger) *Watcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Watcher{
		cfg:       cfg,
		markets:   markets,
		verifier:  verifier,
		resolver:  resolver,
		submitter: submitter,
		events:    events,
		logger:    logger.With(slog.String("component", "watcher")),
		now:       time.Now,
	}
}

// Initialize checks the contract binding once. A failed attempt is retried
// on the next call.
func (w *Watcher) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return nil
	}
	id, err := w.verifier.Verify(ctx)
	if err != nil {
		return fmt.Errorf("watcher: initialize: %w", err)
	}
	w.chainID = id
	w.initialized = true
	w.logger.InfoContext(ctx, "watcher initialized", slog.String("chain_id", id.String()))
	return nil
}

// ChainID returns the chain id cached by Initialize, or nil.
func (w *Watcher) ChainID() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

type counters struct {
	processed atomic.Int64
	errors    atomic.Int64
	skipped   atomic.Int64
	noQuorum  atomic.Int64
}

// CheckPendingResolutions resolves every market currently Resolving.
// Per-market failures are counted, not returned.
func (w *Watcher) CheckPendingResolutions(ctx context.Context) (domain.CheckStats, error) {
	if err := w.Initialize(ctx); err != nil {
		return domain.CheckStats{}, err
	}

	ids, err := w.markets.ListMarketsByStatus(ctx, domain.MarketResolving)
	if err != nil {
		return domain.CheckStats{}, fmt.Errorf("watcher: list resolving markets: %w", err)
	}

	start := w.now()
	var c counters
	var g errgroup.Group
	g.SetLimit(w.cfg.MaxConcurrent)
	for _, id := range ids {
		g.Go(func() error {
			w.processMarket(ctx, id, &c)
			return nil
		})
	}
	_ = g.Wait()

	stats := domain.CheckStats{
		Checked:   len(ids),
		Processed: int(c.processed.Load()),
		Errors:    int(c.errors.Load()),
		Skipped:   int(c.skipped.Load()),
		NoQuorum:  int(c.noQuorum.Load()),
	}
	w.logger.InfoContext(ctx, "resolution check complete",
		slog.Int("checked", stats.Checked),
		slog.Int("processed", stats.Processed),
		slog.Int("errors", stats.Errors),
		slog.Int("skipped", stats.Skipped),
		slog.Int("no_quorum", stats.NoQuorum),
		slog.Duration("elapsed", w.now().Sub(start)),
	)
	return stats, nil
}

func (w *Watcher) processMarket(ctx context.Context, marketID string, c *counters) {
	log := w.logger.With(slog.String("market_id", marketID))

	m, err := w.markets.GetMarket(ctx, marketID)
	if err != nil {
		c.errors.Add(1)
		log.WarnContext(ctx, "read market failed", slog.String("error", err.Error()))
		return
	}
	if m.Status != domain.MarketResolving {
		c.skipped.Add(1)
		return
	}

	res, err := w.resolver.GetConsensus(ctx, domain.ResolutionRequest{
		MarketID:    marketID,
		Question:    m.Question,
		Context:     m.Description,
		RequestedAt: w.now().UTC(),
	}, w.cfg.Threshold)
	if err != nil {
		var nq *domain.NoQuorumError
		if errors.As(err, &nq) {
			c.noQuorum.Add(1)
			log.InfoContext(ctx, "no quorum, retrying next tick",
				slog.Int("consensus_count", nq.ConsensusCount),
				slog.Int("total_models", nq.TotalModels),
			)
			w.emit(ctx, domain.EventResolutionNoQuorum, marketID, map[string]any{
				"consensus_count": nq.ConsensusCount,
				"total_models":    nq.TotalModels,
				"ratio":           nq.Ratio,
			})
			return
		}
		c.errors.Add(1)
		log.ErrorContext(ctx, "consensus failed", slog.String("error", err.Error()))
		return
	}

	// Another tick or operator may have resolved the market while the
	// round was running.
	m, err = w.markets.GetMarket(ctx, marketID)
	if err != nil {
		c.errors.Add(1)
		log.WarnContext(ctx, "re-read market failed", slog.String("error", err.Error()))
		return
	}
	if m.Status != domain.MarketResolving {
		c.skipped.Add(1)
		log.InfoContext(ctx, "market changed during round, skipping", slog.String("status", m.Status.String()))
		return
	}

	rcpt, err := w.submitter.Submit(ctx, marketID, res.Outcome, res.Confidence)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionInFlight) {
			c.skipped.Add(1)
			return
		}
		c.errors.Add(1)
		fatal := domain.IsFatalSubmission(err)
		log.ErrorContext(ctx, "submission failed",
			slog.Bool("fatal", fatal),
			slog.String("error", err.Error()),
		)
		w.emit(ctx, domain.EventSubmissionFailed, marketID, map[string]any{
			"outcome": res.Outcome.String(),
			"fatal":   fatal,
			"error":   err.Error(),
		})
		return
	}

	c.processed.Add(1)
	w.emit(ctx, domain.EventResolutionSubmitted, marketID, map[string]any{
		"outcome":         res.Outcome.String(),
		"confidence":      res.Confidence,
		"consensus_count": res.ConsensusCount,
		"total_models":    res.TotalModels,
		"tx_hash":         rcpt.TxHash,
		"strategy":        string(rcpt.Strategy),
	})
}

func (w *Watcher) emit(ctx context.Context, typ, marketID string, data map[string]any) {
	if w.events == nil {
		return
	}
	w.events.Emit(ctx, domain.PipelineEvent{
		Type:      typ,
		MarketID:  marketID,
		Data:      data,
		Timestamp: w.now().UTC(),
	})
}

// RunLoop checks immediately and then on every interval until ctx ends.
func (w *Watcher) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := w.CheckPendingResolutions(ctx); err != nil {
		w.logger.ErrorContext(ctx, "resolution check failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.CheckPendingResolutions(ctx); err != nil {
				w.logger.ErrorContext(ctx, "resolution check failed", slog.String("error", err.Error()))
			}
		}
	}
}
