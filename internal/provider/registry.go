package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Spec is the immutable description of one provider, built from config.
type Spec struct {
	ID          string
	Kind        string // gemini | openai | anthropic
	APIKey      string
	BaseURL     string
	Models      []string
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	RateLimit   int
}

// Chain turns the ordered model list into fallback steps.
func (s Spec) Chain() []Step {
	steps := make([]Step, 0, len(s.Models))
	for _, m := range s.Models {
		steps = append(steps, Step{Model: m, MaxAttempts: s.MaxAttempts, Backoff: s.Backoff})
	}
	return steps
}

// NewCompleter returns the wire client for spec.Kind.
func NewCompleter(ctx context.Context, spec Spec, hc *http.Client) (Completer, error) {
	switch spec.Kind {
	case "gemini":
		return NewGeminiCompleter(ctx, spec.APIKey, spec.BaseURL, hc)
	case "openai":
		return NewOpenAICompleter(spec.APIKey, spec.BaseURL, hc), nil
	case "anthropic":
		return NewAnthropicCompleter(spec.APIKey, spec.BaseURL, hc), nil
	default:
		return nil, fmt.Errorf("provider: unknown kind %q for %s", spec.Kind, spec.ID)
	}
}

// Build creates one Adapter per spec. limiter may be nil.
func Build(ctx context.Context, specs []Spec, limiter domain.RateLimiter, logger *slog.Logger) ([]*Adapter, error) {
	adapters := make([]*Adapter, 0, len(specs))
	var errs []error
	for _, spec := range specs {
		c, err := NewCompleter(ctx, spec, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opts := []Option{WithAttemptTimeout(spec.Timeout), WithLogger(logger)}
		if limiter != nil && spec.RateLimit > 0 {
			opts = append(opts, WithRateLimit(limiter, spec.RateLimit))
		}
		adapters = append(adapters, NewAdapter(spec.ID, c, spec.Chain(), opts...))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return adapters, nil
}
