package domain

import "time"

// ResolutionRequest is built once per consensus round and never persisted.
type ResolutionRequest struct {
	MarketID     string
	Question     string
	Context      string
	PriceContext string
	RequestedAt  time.Time
}

// ProviderVote is one adapter's answer for a round. When Abstain is set the
// vote is kept for audit but excluded from the tally.
type ProviderVote struct {
	ProviderID    string        `json:"provider_id"`
	ModelUsed     string        `json:"model_used,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	Confidence    int           `json:"confidence"`
	Abstain       bool          `json:"abstain"`
	AbstainReason string        `json:"abstain_reason,omitempty"`
	RawText       string        `json:"raw_text,omitempty"`
	Latency       time.Duration `json:"latency_ns"`
}

// Counts reports whether the vote participates in the tally.
func (v ProviderVote) Counts() bool {
	return !v.Abstain && v.Outcome.Valid()
}

// Abstention builds an abstaining vote.
func Abstention(providerID, model, reason, raw string) ProviderVote {
	return ProviderVote{
		ProviderID:    providerID,
		ModelUsed:     model,
		Abstain:       true,
		AbstainReason: reason,
		RawText:       raw,
	}
}

// ConsensusResult is handed to the submitter and then discarded; its only
// durable effect is the chain write (plus the audit record).
type ConsensusResult struct {
	RoundID        string         `json:"round_id"`
	MarketID       string         `json:"market_id"`
	Outcome        Outcome        `json:"outcome"`
	Confidence     int            `json:"confidence"`
	ConsensusCount int            `json:"consensus_count"`
	TotalModels    int            `json:"total_models"`
	Votes          []ProviderVote `json:"votes"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// AgreementRatio is ConsensusCount/TotalModels, zero when nobody voted.
func (r ConsensusResult) AgreementRatio() float64 {
	if r.TotalModels == 0 {
		return 0
	}
	return float64(r.ConsensusCount) / float64(r.TotalModels)
}

// RoundRecord is the audit trail of a consensus round, accepted or not.
type RoundRecord struct {
	RoundID        string         `json:"round_id"`
	MarketID       string         `json:"market_id"`
	Question       string         `json:"question"`
	Accepted       bool           `json:"accepted"`
	Outcome        Outcome        `json:"outcome"`
	Confidence     int            `json:"confidence"`
	ConsensusCount int            `json:"consensus_count"`
	TotalModels    int            `json:"total_models"`
	Threshold      float64        `json:"threshold"`
	Votes          []ProviderVote `json:"votes"`
	Reason         string         `json:"reason,omitempty"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// SubmissionStrategy selects how a resolution reaches the chain.
type SubmissionStrategy string

const (
	StrategyDirect SubmissionStrategy = "direct"
	StrategyRelay  SubmissionStrategy = "relay"
)

// TxReceipt describes the on-chain effect of a successful submission.
type TxReceipt struct {
	MarketID    string             `json:"market_id"`
	Outcome     Outcome            `json:"outcome"`
	Confidence  int                `json:"confidence"`
	Strategy    SubmissionStrategy `json:"strategy"`
	TxHash      string             `json:"tx_hash,omitempty"`
	BlockNumber uint64             `json:"block_number,omitempty"`
	RelayTaskID string             `json:"relay_task_id,omitempty"`
	Attempts    int                `json:"attempts"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// CheckStats is the result of one watcher tick.
type CheckStats struct {
	Checked   int `json:"checked"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
	NoQuorum  int `json:"no_quorum"`
}
