package domain

import "time"

// Pipeline event types published on the signal bus and pushed to
// websocket clients.
const (
	EventRoundCompleted      = "round_completed"
	EventResolutionSubmitted = "resolution_submitted"
	EventResolutionNoQuorum  = "resolution_no_quorum"
	EventSubmissionFailed    = "submission_failed"
	EventDisputeVoteCast     = "dispute_vote_cast"
	EventDisputeFinalized    = "dispute_finalized"
	EventDisputeTie          = "dispute_tie"
)

// ChannelPipeline is the signal bus channel carrying PipelineEvents.
const ChannelPipeline = "oracle:events"

// PipelineEvent is the envelope published for every pipeline event.
type PipelineEvent struct {
	Type      string         `json:"type"`
	MarketID  string         `json:"market_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StreamPipeline is the durable stream mirroring ChannelPipeline so late
// websocket clients can replay recent events.
const StreamPipeline = "oracle:events:log"
