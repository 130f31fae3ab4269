package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// StakeAdmin reads and seeds the reputation-stake ledger.
type StakeAdmin interface {
	GetStake(ctx context.Context, address string) (domain.ReputationStake, error)
	PutStake(ctx context.Context, st domain.ReputationStake) error
}

// StakeHandler serves the stake ledger endpoints.
type StakeHandler struct {
	stakes StakeAdmin
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler.
func NewStakeHandler(stakes StakeAdmin, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{stakes: stakes, logger: logger}
}

type stakeView struct {
	Address       string    `json:"address"`
	StakedAmount  string    `json:"stakedAmount"`
	AccuracyScore int       `json:"accuracyScore"`
	Tier          string    `json:"tier"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func addressParam(r *http.Request) (string, error) {
	addr := pathParam(r, "address")
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: address %q", domain.ErrInvalidInput, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// GetStake returns one staker's ledger row.
// GET /api/stakes/{address}
func (h *StakeHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.stakes.GetStake(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get stake", err)
		return
	}
	writeJSON(w, http.StatusOK, stakeView{
		Address:       st.Address,
		StakedAmount:  st.StakedAmount.String(),
		AccuracyScore: st.AccuracyScore,
		Tier:          string(st.Tier),
		UpdatedAt:     st.UpdatedAt,
	})
}

type putStakeRequest struct {
	StakedAmount  string `json:"stakedAmount"`
	AccuracyScore *int   `json:"accuracyScore"`
}

// PutStake sets a staker's amount. It mirrors the external staking
// contract into the ledger.
// PUT /api/stakes/{address}
func (h *StakeHandler) PutStake(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body putStakeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.StakedAmount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "stakedAmount must be a non-negative decimal")
		return
	}
	score := 50
	if body.AccuracyScore != nil {
		score = *body.AccuracyScore
	}
	if score < 0 || score > 100 {
		writeError(w, http.StatusBadRequest, "accuracyScore must be within 0-100")
		return
	}

	st := domain.ReputationStake{
		Address:       addr,
		StakedAmount:  amount,
		AccuracyScore: score,
		Tier:          domain.TierFor(amount),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := h.stakes.PutStake(r.Context(), st); err != nil {
		writeDomainError(w, r, h.logger, "put stake", err)
		return
	}
	writeJSON(w, http.StatusOK, stakeView{
		Address:       st.Address,
		StakedAmount:  st.StakedAmount.String(),
		AccuracyScore: st.AccuracyScore,
		Tier:          string(st.Tier),
		UpdatedAt:     st.UpdatedAt,
	})
}
