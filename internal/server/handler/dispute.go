package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/dispute"
	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// DisputeService is the dispute arbitration surface used by the API.
type DisputeService interface {
	CastVote(ctx context.Context, req dispute.VoteRequest) (domain.DisputeVote, error)
	TallyDisputeVotes(ctx context.Context, marketID string) (domain.DisputeTally, error)
	Finalize(ctx context.Context, marketID string) (domain.Settlement, error)
}

// DisputeHandler serves the dispute endpoints.
type DisputeHandler struct {
	disputes DisputeService
	logger   *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler.
func NewDisputeHandler(disputes DisputeService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, logger: logger}
}

type tallyView struct {
	MarketID    string             `json:"marketId"`
	Resolved    bool               `json:"resolved"`
	Outcome     uint8              `json:"outcome,omitempty"`
	TotalWeight float64            `json:"totalWeight"`
	Weights     map[string]float64 `json:"weights"`
	VoteCount   int                `json:"voteCount"`
}

func newTallyView(t domain.DisputeTally) tallyView {
	v := tallyView{
		MarketID:    t.MarketID,
		Resolved:    t.Resolved,
		TotalWeight: t.TotalWeight,
		Weights:     make(map[string]float64, len(t.Weights)),
		VoteCount:   t.VoteCount,
	}
	if t.Resolved {
		v.Outcome = uint8(t.Outcome)
	}
	for o, w := range t.Weights {
		v.Weights[o.String()] = w
	}
	return v
}

// Tally returns the weighted tally once the dispute window has closed.
// GET /api/disputes/{marketId}/tally
func (h *DisputeHandler) Tally(w http.ResponseWriter, r *http.Request) {
	t, err := h.disputes.TallyDisputeVotes(r.Context(), pathParam(r, "marketId"))
	if err != nil {
		writeDomainError(w, r, h.logger, "tally", err)
		return
	}
	writeJSON(w, http.StatusOK, newTallyView(t))
}

type castVoteRequest struct {
	Voter     string          `json:"voter"`
	Choice    json.RawMessage `json:"choice"`
	Signature string          `json:"signature"`
}

type voteResponse struct {
	MarketID    string    `json:"marketId"`
	Voter       string    `json:"voter"`
	Choice      uint8     `json:"choice"`
	Stake       string    `json:"stake"`
	StakeWeight float64   `json:"stakeWeight"`
	CastAt      time.Time `json:"castAt"`
}

// CastVote records a signed ballot.
// POST /api/disputes/{marketId}/votes
func (h *DisputeHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	var body castVoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	choice, err := parseOutcomeJSON(body.Choice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vote, err := h.disputes.CastVote(r.Context(), dispute.VoteRequest{
		MarketID:  pathParam(r, "marketId"),
		Voter:     body.Voter,
		Choice:    choice,
		Signature: body.Signature,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "cast vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, voteResponse{
		MarketID:    vote.MarketID,
		Voter:       vote.Voter,
		Choice:      uint8(vote.Choice),
		Stake:       vote.StakedAmount.String(),
		StakeWeight: vote.StakeWeight,
		CastAt:      vote.CastAt,
	})
}

type finalizeResponse struct {
	Settlement      domain.Settlement `json:"settlement"`
	Submitted       bool              `json:"submitted"`
	SubmissionError string            `json:"submissionError,omitempty"`
}

// Finalize settles stakes and submits the dispute's outcome. When the
// settlement applied but the chain write failed the response is 502 with
// the settlement so the operator can retry.
// POST /api/disputes/{marketId}/finalize
func (h *DisputeHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "marketId")
	s, err := h.disputes.Finalize(r.Context(), marketID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, finalizeResponse{Settlement: s, Submitted: true})
	case s.MarketID != "":
		h.logger.ErrorContext(r.Context(), "handler: finalize submission failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, finalizeResponse{Settlement: s, SubmissionError: err.Error()})
	case errors.Is(err, domain.ErrDisputeTie):
		writeError(w, http.StatusConflict, "dispute tied, governance tie-break required")
	default:
		writeDomainError(w, r, h.logger, "finalize", err)
	}
}
