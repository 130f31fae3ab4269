package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeVote is cast once per voter per dispute and never changes.
type DisputeVote struct {
	MarketID     string
	Voter        string
	StakedAmount decimal.Decimal
	StakeWeight  float64 // sqrt(StakedAmount)
	Choice       Outcome
	Signature    string
	CastAt       time.Time
}

// StakeTier buckets stakers by the size of their stake.
type StakeTier string

const (
	TierNone     StakeTier = "none"
	TierBronze   StakeTier = "bronze"
	TierSilver   StakeTier = "silver"
	TierGold     StakeTier = "gold"
	TierPlatinum StakeTier = "platinum"
)

var (
	tierSilverMin   = decimal.NewFromInt(10)
	tierGoldMin     = decimal.NewFromInt(100)
	tierPlatinumMin = decimal.NewFromInt(1000)
)

// TierFor returns the tier for a staked amount (in BNB).
func TierFor(amount decimal.Decimal) StakeTier {
	switch {
	case !amount.IsPositive():
		return TierNone
	case amount.LessThan(tierSilverMin):
		return TierBronze
	case amount.LessThan(tierGoldMin):
		return TierSilver
	case amount.LessThan(tierPlatinumMin):
		return TierGold
	default:
		return TierPlatinum
	}
}

// ReputationStake is owned by the staking subsystem. Dispute arbitration
// reads it and hands settlements back through StakeSlasher.
type ReputationStake struct {
	Address       string
	StakedAmount  decimal.Decimal
	AccuracyScore int
	Tier          StakeTier
	UpdatedAt     time.Time
}

// DisputeTally is the quadratic-weighted result of a dispute vote.
type DisputeTally struct {
	MarketID    string              `json:"market_id"`
	Outcome     Outcome             `json:"outcome"`
	Resolved    bool                `json:"resolved"`
	TotalWeight float64             `json:"total_weight"`
	Weights     map[Outcome]float64 `json:"weights"`
	VoteCount   int                 `json:"vote_count"`
}

// SettlementEntry is the stake movement for one voter.
type SettlementEntry struct {
	Voter       string          `json:"voter"`
	Choice      Outcome         `json:"choice"`
	Correct     bool            `json:"correct"`
	StakeBefore decimal.Decimal `json:"stake_before"`
	Slashed     decimal.Decimal `json:"slashed"`
	Reward      decimal.Decimal `json:"reward"`
}

// Settlement is the slashing and redistribution plan for a finalized dispute.
type Settlement struct {
	MarketID     string            `json:"market_id"`
	FinalOutcome Outcome           `json:"final_outcome"`
	SlashPercent decimal.Decimal   `json:"slash_percent"`
	SlashedPool  decimal.Decimal   `json:"slashed_pool"`
	Entries      []SettlementEntry `json:"entries"`
	FinalizedAt  time.Time         `json:"finalized_at"`
}
