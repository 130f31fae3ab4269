package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrSubmissionInFlight  = errors.New("submission already in flight")
	ErrMarketNotDisputed   = errors.New("market is not disputed")
	ErrDisputeWindowOpen   = errors.New("dispute window still open")
	ErrDisputeWindowClosed = errors.New("dispute window closed")
	ErrAlreadyVoted        = errors.New("voter already voted")
	ErrNoStake             = errors.New("voter has no stake")
	ErrDisputeTie          = errors.New("dispute tally tied")
	ErrStakeChanged        = errors.New("stake changed during settlement")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrInvalidInput        = errors.New("invalid input")
)

// ProviderErrorKind tells the fallback chain whether to retry the same model.
type ProviderErrorKind int

const (
	ProviderTransient ProviderErrorKind = iota
	ProviderPermanent
)

func (k ProviderErrorKind) String() string {
	if k == ProviderTransient {
		return "transient"
	}
	return "permanent"
}

// ProviderError is returned by AI provider adapters. The consensus engine
// records it as an abstention and never fails a round because of it.
type ProviderError struct {
	Provider string
	Model    string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s): %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NoQuorumError means a consensus round did not gather enough agreeing
// votes. The market must be left in Resolving for a later tick.
type NoQuorumError struct {
	MarketID       string
	TotalModels    int
	ConsensusCount int
	Ratio          float64
	Threshold      float64
	MinQuorum      int
}

func (e *NoQuorumError) Error() string {
	return fmt.Sprintf("no quorum for market %s: %d/%d agree (ratio %.3f, threshold %.2f, min quorum %d)",
		e.MarketID, e.ConsensusCount, e.TotalModels, e.Ratio, e.Threshold, e.MinQuorum)
}

// SubmissionErrorKind separates failures worth retrying from ones that need
// an operator.
type SubmissionErrorKind int

const (
	SubmissionRetryable SubmissionErrorKind = iota
	SubmissionFatal
)

func (k SubmissionErrorKind) String() string {
	if k == SubmissionRetryable {
		return "retryable"
	}
	return "fatal"
}

// SubmissionError is returned by the resolution submitter.
type SubmissionError struct {
	MarketID string
	Kind     SubmissionErrorKind
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission for market %s (%s): %v", e.MarketID, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsFatalSubmission reports whether err carries a fatal SubmissionError.
func IsFatalSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Kind == SubmissionFatal
}

// AuthenticationError rejects an inbound request before any processing.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return ErrUnauthorized }
