package submitter

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Submission is the state of one Submit call. It survives across attempts
// so a retry resumes the transaction or relay task already in flight
// instead of creating a second one.
type Submission struct {
	MarketID   string
	Outcome    domain.Outcome
	Confidence int
	Payload    []byte
	TxHash     common.Hash
	TaskID     string
	Attempts   int

	// IdempotencyKey identifies the relay task being created; Generation
	// counts the terminal relay tasks already issued for this payload so a
	// fresh task after a failure gets a fresh key.
	IdempotencyKey string
	Generation     int
}

// InFlight reports whether an earlier attempt left a transaction or relay
// task that has not reached a terminal state.
func (s *Submission) InFlight() bool {
	return s.TaskID != "" || s.TxHash != (common.Hash{})
}

// Strategy performs one submission attempt.
type Strategy interface {
	Name() domain.SubmissionStrategy
	Attempt(ctx context.Context, sub *Submission) (domain.TxReceipt, error)
}
