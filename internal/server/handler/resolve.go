package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// adhocMarketID labels rounds requested without a market.
const adhocMarketID = "adhoc"

// ConsensusRunner runs a consensus round.
type ConsensusRunner interface {
	GetConsensus(ctx context.Context, req domain.ResolutionRequest, threshold float64) (domain.ConsensusResult, error)
}

// ResolveHandler answers ad-hoc resolution requests.
type ResolveHandler struct {
	consensus ConsensusRunner
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(consensus ConsensusRunner, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{consensus: consensus, logger: logger, now: time.Now}
}

type resolveRequest struct {
	MarketID          string `json:"marketId"`
	MarketDescription string `json:"marketDescription"`
	PriceContext      string `json:"priceContext"`
}

type voteView struct {
	Provider      string `json:"provider"`
	Model         string `json:"model,omitempty"`
	Outcome       uint8  `json:"outcome,omitempty"`
	Confidence    int    `json:"confidence"`
	Abstain       bool   `json:"abstain,omitempty"`
	AbstainReason string `json:"abstainReason,omitempty"`
}

type resolveResponse struct {
	RoundID        string     `json:"roundId"`
	Outcome        uint8      `json:"outcome"`
	Confidence     int        `json:"confidence"`
	ConsensusCount int        `json:"consensusCount"`
	TotalModels    int        `json:"totalModels"`
	Votes          []voteView `json:"votes"`
	Timestamp      int64      `json:"timestamp"`
}

type pendingResponse struct {
	Decision       string  `json:"decision"`
	Reason         string  `json:"reason"`
	ConsensusCount int     `json:"consensusCount"`
	TotalModels    int     `json:"totalModels"`
	Ratio          float64 `json:"ratio"`
	Timestamp      int64   `json:"timestamp"`
}

// Resolve runs a consensus round over the described market. A round
// without quorum is a "pending" decision, not a failure.
// POST /api/resolve
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body.MarketDescription = strings.TrimSpace(body.MarketDescription)
	if body.MarketDescription == "" {
		writeError(w, http.StatusBadRequest, "marketDescription is required")
		return
	}
	if body.MarketID == "" {
		body.MarketID = adhocMarketID
	}

	now := h.now().UTC()
	res, err := h.consensus.GetConsensus(r.Context(), domain.ResolutionRequest{
		MarketID:     body.MarketID,
		Question:     body.MarketDescription,
		PriceContext: body.PriceContext,
		RequestedAt:  now,
	}, 0)

	var nq *domain.NoQuorumError
	if errors.As(err, &nq) {
		writeJSON(w, http.StatusOK, pendingResponse{
			Decision:       "pending",
			Reason:         "no decision yet: " + nq.Error(),
			ConsensusCount: nq.ConsensusCount,
			TotalModels:    nq.TotalModels,
			Ratio:          nq.Ratio,
			Timestamp:      now.UnixMilli(),
		})
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}

	votes := make([]voteView, 0, len(res.Votes))
	for _, v := range res.Votes {
		vv := voteView{
			Provider:      v.ProviderID,
			Model:         v.ModelUsed,
			Confidence:    v.Confidence,
			Abstain:       v.Abstain,
			AbstainReason: v.AbstainReason,
		}
		if !v.Abstain {
			vv.Outcome = uint8(v.Outcome)
		}
		votes = append(votes, vv)
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		RoundID:        res.RoundID,
		Outcome:        uint8(res.Outcome),
		Confidence:     res.Confidence,
		ConsensusCount: res.ConsensusCount,
		TotalModels:    res.TotalModels,
		Votes:          votes,
		Timestamp:      res.ComputedAt.UnixMilli(),
	})
}
