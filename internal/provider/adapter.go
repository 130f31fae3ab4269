// Package provider wraps AI completion APIs behind one contract: a prompt
// goes in, text and the model that produced it come out. Each adapter walks
// an ordered model-fallback chain.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Completer is one provider wire protocol.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Step is one link of a fallback chain.
type Step struct {
	Model       string
	MaxAttempts int
	Backoff     time.Duration
}

// Response is a successful completion.
type Response struct {
	Text      string
	ModelUsed string
}

const defaultMaxBackoff = 30 * time.Second

// Adapter calls a single provider through its fallback chain.
type Adapter struct {
	id         string
	chain      []Step
	completer  Completer
	timeout    time.Duration
	maxBackoff time.Duration
	limiter    domain.RateLimiter
	rateLimit  int
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAttemptTimeout bounds every single completion attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithRateLimit checks limiter before each attempt, allowing perMinute calls.
func WithRateLimit(limiter domain.RateLimiter, perMinute int) Option {
	return func(a *Adapter) {
		a.limiter = limiter
		a.rateLimit = perMinute
	}
}

// WithMaxBackoff caps the exponential backoff between attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(a *Adapter) { a.maxBackoff = d }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an adapter for provider id.
func NewAdapter(id string, c Completer, chain []Step, opts ...Option) *Adapter {
	a := &Adapter{
		id:         id,
		chain:      chain,
		completer:  c,
		maxBackoff: defaultMaxBackoff,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With(slog.String("provider", id))
	return a
}

// ID returns the provider id.
func (a *Adapter) ID() string { return a.id }

// Call runs the fallback chain. Transient failures retry the same model with
// backoff up to Step.MaxAttempts; permanent failures advance to the next
// model. Exhausting the chain returns a permanent *domain.ProviderError.
func (a *Adapter) Call(ctx context.Context, prompt string) (Response, error) {
	if len(a.chain) == 0 {
		return Response{}, &domain.ProviderError{Provider: a.id, Kind: domain.ProviderPermanent, Err: errors.New("empty model chain")}
	}

	var (
		lastErr   error
		lastModel string
	)
	for _, step := range a.chain {
		attempts := max(step.MaxAttempts, 1)
		for attempt := 1; attempt <= attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return Response{}, &domain.ProviderError{Provider: a.id, Model: step.Model, Kind: domain.ProviderPermanent, Err: err}
			}
			lastModel = step.Model

			text, err := a.attempt(ctx, step.Model, prompt)
			if err == nil {
				return Response{Text: text, ModelUsed: step.Model}, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return Response{}, &domain.ProviderError{Provider: a.id, Model: step.Model, Kind: domain.ProviderPermanent, Err: ctx.Err()}
			}

			kind := Classify(err)
			a.logger.DebugContext(ctx, "provider attempt failed",
				slog.String("model", step.Model),
				slog.Int("attempt", attempt),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
			)
			if kind == domain.ProviderPermanent {
				break
			}
			if attempt < attempts {
				if err := a.sleep(ctx, a.backoff(step.Backoff, attempt)); err != nil {
					return Response{}, &domain.ProviderError{Provider: a.id, Model: step.Model, Kind: domain.ProviderPermanent, Err: err}
				}
			}
		}
	}

	return Response{}, &domain.ProviderError{
		Provider: a.id,
		Model:    lastModel,
		Kind:     domain.ProviderPermanent,
		Err:      fmt.Errorf("fallback chain exhausted: %w", lastErr),
	}
}

func (a *Adapter) attempt(ctx context.Context, model, prompt string) (string, error) {
	if a.limiter != nil && a.rateLimit > 0 {
		ok, err := a.limiter.Allow(ctx, "provider:"+a.id, a.rateLimit, time.Minute)
		if err != nil {
			a.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return "", domain.ErrRateLimited
		}
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	text, err := a.completer.Complete(callCtx, model, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrMalformedResponse)
	}
	return text, nil
}

// backoff doubles base for every prior attempt, capped at maxBackoff.
func (a *Adapter) backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= a.maxBackoff {
			return a.maxBackoff
		}
	}
	return min(d, a.maxBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
