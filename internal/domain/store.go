package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	MarketID  string         `json:"market_id,omitempty"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, marketID string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RoundStore persists consensus round records.
type RoundStore interface {
	Record(ctx context.Context, rec RoundRecord) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]RoundRecord, error)
}

// DisputeVoteStore persists dispute votes. Insert returns ErrAlreadyVoted
// when the voter already has a vote for the market.
type DisputeVoteStore interface {
	Insert(ctx context.Context, vote DisputeVote) error
	ListByMarket(ctx context.Context, marketID string) ([]DisputeVote, error)
}

// StakeLedger is the read side of the staking subsystem.
type StakeLedger interface {
	GetStake(ctx context.Context, address string) (ReputationStake, error)
}

// StakeSlasher applies a finalized dispute settlement to the staking
// subsystem. Applying the same market twice must be a no-op. A settlement
// that would slash more than a voter holds fails with ErrStakeChanged and
// changes nothing.
type StakeSlasher interface {
	ApplySettlement(ctx context.Context, s Settlement) error
}

// RelayTaskStore journals relay tasks per market.
type RelayTaskStore interface {
	Save(ctx context.Context, task RelayTask) error
	ListByMarket(ctx context.Context, marketID string) ([]RelayTask, error)
}

// MarketReader reads market state from the chain.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID string) (Market, error)
	ListMarketsByStatus(ctx context.Context, status MarketStatus) ([]string, error)
}
