// Package consensus runs a resolution round: the prompt fans out to every
// configured provider, answers are parsed into votes, and a threshold-gated
// tally decides the outcome.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/provider"
)

// Caller is a provider adapter as seen by the engine.
type Caller interface {
	ID() string
	Call(ctx context.Context, prompt string) (provider.Response, error)
}

// RoundRecorder receives every finished round, accepted or not.
type RoundRecorder interface {
	RecordRound(ctx context.Context, rec domain.RoundRecord) error
}

// RecorderFunc adapts a function to RoundRecorder.
type RecorderFunc func(ctx context.Context, rec domain.RoundRecord) error

// RecordRound implements RoundRecorder.
func (f RecorderFunc) RecordRound(ctx context.Context, rec domain.RoundRecord) error {
	return f(ctx, rec)
}

// Config is the immutable round policy.
type Config struct {
	AgreementThreshold float64
	MinQuorum          int
	ProviderTimeout    time.Duration
	RoundTimeout       time.Duration
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		AgreementThreshold: 0.8,
		MinQuorum:          3,
		ProviderTimeout:    45 * time.Second,
		RoundTimeout:       90 * time.Second,
	}
}

const recordTimeout = 10 * time.Second

// Engine runs consensus rounds.
type Engine struct {
	cfg       Config
	callers   []Caller
	recorders []RoundRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine over callers. The slice is copied.
func NewEngine(cfg Config, callers []Caller, logger *slog.Logger, recorders ...RoundRecorder) *Engine {
	if cfg.AgreementThreshold <= 0 {
		cfg.AgreementThreshold = DefaultConfig().AgreementThreshold
	}
	if cfg.MinQuorum <= 0 {
		cfg.MinQuorum = DefaultConfig().MinQuorum
	}
	return &Engine{
		cfg:       cfg,
		callers:   append([]Caller(nil), callers...),
		recorders: recorders,
		logger:    logger.With(slog.String("component", "consensus")),
		now:       time.Now,
	}
}

// Providers returns the number of configured providers.
func (e *Engine) Providers() int { return len(e.callers) }

type indexedVote struct {
	idx  int
	vote domain.ProviderVote
}

// GetConsensus runs one round for req. threshold <= 0 uses the configured
// agreement threshold. A round without enough agreeing votes fails with
// *domain.NoQuorumError; provider failures only ever become abstentions.
func (e *Engine) GetConsensus(ctx context.Context, req domain.ResolutionRequest, threshold float64) (domain.ConsensusResult, error) {
	if threshold <= 0 {
		threshold = e.cfg.AgreementThreshold
	}
	roundID := uuid.NewString()
	prompt := BuildPrompt(req)

	votes := e.collect(ctx, prompt)
	t := Compute(votes, threshold, e.cfg.MinQuorum)

	rec := domain.RoundRecord{
		RoundID:        roundID,
		MarketID:       req.MarketID,
		Question:       req.Question,
		Accepted:       t.Accepted,
		Outcome:        t.Outcome,
		Confidence:     t.Confidence,
		ConsensusCount: t.ConsensusCount,
		TotalModels:    t.TotalModels,
		Threshold:      threshold,
		Votes:          votes,
		ComputedAt:     e.now().UTC(),
	}

	if !t.Accepted {
		nq := &domain.NoQuorumError{
			MarketID:       req.MarketID,
			TotalModels:    t.TotalModels,
			ConsensusCount: t.ConsensusCount,
			Ratio:          t.Ratio,
			Threshold:      threshold,
			MinQuorum:      e.cfg.MinQuorum,
		}
		rec.Reason = nq.Error()
		e.record(ctx, rec)
		e.logger.InfoContext(ctx, "consensus not reached",
			slog.String("market_id", req.MarketID),
			slog.Int("total_models", t.TotalModels),
			slog.Int("consensus_count", t.ConsensusCount),
			slog.Float64("ratio", t.Ratio),
		)
		return domain.ConsensusResult{}, nq
	}

	e.record(ctx, rec)
	e.logger.InfoContext(ctx, "consensus reached",
		slog.String("market_id", req.MarketID),
		slog.String("outcome", t.Outcome.String()),
		slog.Int("confidence", t.Confidence),
		slog.Int("consensus_count", t.ConsensusCount),
		slog.Int("total_models", t.TotalModels),
	)
	return domain.ConsensusResult{
		RoundID:        roundID,
		MarketID:       req.MarketID,
		Outcome:        t.Outcome,
		Confidence:     t.Confidence,
		ConsensusCount: t.ConsensusCount,
		TotalModels:    t.TotalModels,
		Votes:          votes,
		ComputedAt:     rec.ComputedAt,
	}, nil
}

// collect fans the prompt out and waits for every provider or the round
// deadline, whichever comes first. Providers still running at the deadline
// abstain; their late results land in the buffered channel and are dropped.
func (e *Engine) collect(ctx context.Context, prompt string) []domain.ProviderVote {
	var (
		roundCtx context.Context
		cancel   context.CancelFunc
	)
	if e.cfg.RoundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, e.cfg.RoundTimeout)
	} else {
		roundCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	results := make(chan indexedVote, len(e.callers))
	for i, c := range e.callers {
		go func() {
			results <- indexedVote{idx: i, vote: e.ask(roundCtx, c, prompt)}
		}()
	}

	votes := make([]domain.ProviderVote, len(e.callers))
	done := make([]bool, len(e.callers))
	for received := 0; received < len(e.callers); received++ {
		select {
		case r := <-results:
			votes[r.idx] = r.vote
			done[r.idx] = true
		case <-roundCtx.Done():
			for i, c := range e.callers {
				if !done[i] {
					votes[i] = domain.Abstention(c.ID(), "", "round deadline exceeded", "")
				}
			}
			return votes
		}
	}
	return votes
}

// ask performs one provider call under the per-provider timeout and
// normalizes the answer into a vote or an abstention.
func (e *Engine) ask(ctx context.Context, c Caller, prompt string) domain.ProviderVote {
	callCtx := ctx
	if e.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.Call(callCtx, prompt)
	latency := time.Since(start)
	if err != nil {
		reason := err.Error()
		var pe *domain.ProviderError
		if !errors.As(err, &pe) {
			reason = fmt.Sprintf("provider call failed: %v", err)
		}
		e.logger.WarnContext(ctx, "provider abstained",
			slog.String("provider", c.ID()),
			slog.String("error", reason),
		)
		v := domain.Abstention(c.ID(), "", reason, "")
		v.Latency = latency
		return v
	}

	outcome, confidence, ok := ParseVote(resp.Text)
	if !ok {
		v := domain.Abstention(c.ID(), resp.ModelUsed, "unparsable response", resp.Text)
		v.Latency = latency
		return v
	}
	return domain.ProviderVote{
		ProviderID: c.ID(),
		ModelUsed:  resp.ModelUsed,
		Outcome:    outcome,
		Confidence: confidence,
		RawText:    resp.Text,
		Latency:    latency,
	}
}

func (e *Engine) record(ctx context.Context, rec domain.RoundRecord) {
	if len(e.recorders) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, r := range e.recorders {
		if err := r.RecordRound(rctx, rec); err != nil {
			e.logger.ErrorContext(ctx, "record round failed",
				slog.String("round_id", rec.RoundID),
				slog.String("market_id", rec.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
