// Package submitter delivers accepted resolutions to the market contract,
// either as a direct transaction or through a gas-sponsoring relay.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/platform/chain"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	LockTTL     time.Duration
}

// DefaultConfig returns the production retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		LockTTL:     5 * time.Minute,
	}
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLocks adds a cross-process lock per market on top of the in-process
// guard.
func WithLocks(l domain.LockManager) Option {
	return func(s *Submitter) { s.locks = l }
}

// WithAudit records submissions in the audit log.
func WithAudit(a domain.AuditStore) Option {
	return func(s *Submitter) { s.audit = a }
}

// Submitter pushes one resolution per market at a time.
type Submitter struct {
	cfg      Config
	strategy Strategy
	markets  domain.MarketReader
	locks    domain.LockManager
	audit    domain.AuditStore
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a Submitter.
func New(cfg Config, strategy Strategy, markets domain.MarketReader, logger *slog.Logger, opts ...Option) *Submitter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	s := &Submitter{
		cfg:      cfg,
		strategy: strategy,
		markets:  markets,
		logger:   logger,
		inflight: make(map[string]struct{}),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Strategy reports the configured submission path.
func (s *Submitter) Strategy() domain.SubmissionStrategy { return s.strategy.Name() }

// Submit writes outcome and confidence for marketID on-chain. The market
// must be Resolving or Disputed when the first attempt starts; a market
// already Resolved fails with a fatal ErrAlreadyResolved. A concurrent
// Submit for the same market fails with a retryable ErrSubmissionInFlight.
func (s *Submitter) Submit(ctx context.Context, marketID string, outcome domain.Outcome, confidence int) (domain.TxReceipt, error) {
	if !outcome.Valid() {
		return domain.TxReceipt{}, s.fatal(marketID, fmt.Errorf("%w: %d", domain.ErrInvalidOutcome, outcome))
	}
	if confidence < 0 || confidence > 100 {
		return domain.TxReceipt{}, s.fatal(marketID, fmt.Errorf("confidence %d out of range", confidence))
	}
	payload, err := chain.PackFulfill(marketID, outcome, confidence)
	if err != nil {
		return domain.TxReceipt{}, s.fatal(marketID, err)
	}

	release, err := s.claim(ctx, marketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	defer release()

	sub := &Submission{
		MarketID:   marketID,
		Outcome:    outcome,
		Confidence: confidence,
		Payload:    payload,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.backoff(attempt-1)); err != nil {
				return domain.TxReceipt{}, &domain.SubmissionError{MarketID: marketID, Kind: domain.SubmissionRetryable, Err: err}
			}
		}
		sub.Attempts = attempt

		// An attempt that left work in flight is resumed without the
		// status check: that work may be what resolved the market.
		if !sub.InFlight() {
			if err := s.checkStatus(ctx, marketID); err != nil {
				if Classify(err) == domain.SubmissionFatal {
					s.recordFailure(ctx, sub, err)
					return domain.TxReceipt{}, s.fatal(marketID, err)
				}
				lastErr = err
				continue
			}
		}

		rcpt, err := s.strategy.Attempt(ctx, sub)
		if err == nil {
			rcpt.MarketID = marketID
			rcpt.Outcome = outcome
			rcpt.Confidence = confidence
			rcpt.Attempts = attempt
			rcpt.SubmittedAt = s.now().UTC()
			s.recordSuccess(ctx, rcpt)
			return rcpt, nil
		}

		lastErr = err
		kind := Classify(err)
		s.logger.WarnContext(ctx, "submission attempt failed",
			slog.String("market_id", marketID),
			slog.String("strategy", string(s.strategy.Name())),
			slog.Int("attempt", attempt),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		if kind == domain.SubmissionFatal {
			s.recordFailure(ctx, sub, err)
			return domain.TxReceipt{}, s.fatal(marketID, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.recordFailure(ctx, sub, lastErr)
	var se *domain.SubmissionError
	if errors.As(lastErr, &se) && se.MarketID == marketID {
		return domain.TxReceipt{}, se
	}
	return domain.TxReceipt{}, &domain.SubmissionError{MarketID: marketID, Kind: domain.SubmissionRetryable, Err: lastErr}
}

// claim takes the in-process guard and, when configured, the distributed
// lock for marketID.
func (s *Submitter) claim(ctx context.Context, marketID string) (func(), error) {
	s.mu.Lock()
	if _, busy := s.inflight[marketID]; busy {
		s.mu.Unlock()
		return nil, &domain.SubmissionError{MarketID: marketID, Kind: domain.SubmissionRetryable, Err: domain.ErrSubmissionInFlight}
	}
	s.inflight[marketID] = struct{}{}
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		delete(s.inflight, marketID)
		s.mu.Unlock()
	}
	if s.locks == nil {
		return done, nil
	}

	unlock, err := s.locks.Acquire(ctx, "submit:"+marketID, s.cfg.LockTTL)
	if err != nil {
		done()
		if errors.Is(err, domain.ErrLockHeld) {
			err = fmt.Errorf("%w: %w", domain.ErrSubmissionInFlight, err)
		}
		return nil, &domain.SubmissionError{MarketID: marketID, Kind: domain.SubmissionRetryable, Err: err}
	}
	return func() {
		unlock()
		done()
	}, nil
}

func (s *Submitter) checkStatus(ctx context.Context, marketID string) error {
	m, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("read market status: %w", err)
	}
	switch m.Status {
	case domain.MarketResolving, domain.MarketDisputed:
		return nil
	case domain.MarketResolved:
		return domain.ErrAlreadyResolved
	default:
		return fmt.Errorf("market %s not resolving: status %s", marketID, m.Status)
	}
}

func (s *Submitter) backoff(retry int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if s.cfg.MaxBackoff > 0 && d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if s.cfg.MaxBackoff > 0 && d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}

func (s *Submitter) fatal(marketID string, err error) error {
	var se *domain.SubmissionError
	if errors.As(err, &se) && se.Kind == domain.SubmissionFatal {
		return se
	}
	return &domain.SubmissionError{MarketID: marketID, Kind: domain.SubmissionFatal, Err: err}
}

func (s *Submitter) recordSuccess(ctx context.Context, rcpt domain.TxReceipt) {
	s.logger.InfoContext(ctx, "resolution submitted",
		slog.String("market_id", rcpt.MarketID),
		slog.String("outcome", rcpt.Outcome.String()),
		slog.Int("confidence", rcpt.Confidence),
		slog.String("strategy", string(rcpt.Strategy)),
		slog.String("tx_hash", rcpt.TxHash),
		slog.Int("attempts", rcpt.Attempts),
	)
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"outcome":    rcpt.Outcome.String(),
		"confidence": rcpt.Confidence,
		"strategy":   string(rcpt.Strategy),
		"tx_hash":    rcpt.TxHash,
		"attempts":   rcpt.Attempts,
	}
	if rcpt.RelayTaskID != "" {
		detail["relay_task_id"] = rcpt.RelayTaskID
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), domain.EventResolutionSubmitted, rcpt.MarketID, detail); err != nil {
		s.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
	}
}

func (s *Submitter) recordFailure(ctx context.Context, sub *Submission, err error) {
	if s.audit == nil || err == nil {
		return
	}
	detail := map[string]any{
		"outcome":  sub.Outcome.String(),
		"strategy": string(s.strategy.Name()),
		"attempts": sub.Attempts,
		"kind":     Classify(err).String(),
		"error":    err.Error(),
	}
	if aerr := s.audit.Log(context.WithoutCancel(ctx), domain.EventSubmissionFailed, sub.MarketID, detail); aerr != nil {
		s.logger.WarnContext(ctx, "audit write failed", slog.String("error", aerr.Error()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
