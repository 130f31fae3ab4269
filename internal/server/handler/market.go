package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// RelayTaskLister reads the relay task journal.
type RelayTaskLister interface {
	ListByMarket(ctx context.Context, marketID string) ([]domain.RelayTask, error)
}

// MarketHandler serves read-only views of a market: its on-chain state and
// the oracle's history for it. Stores left nil answer 404.
type MarketHandler struct {
	markets domain.MarketReader
	rounds  domain.RoundStore
	relay   RelayTaskLister
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketReader, rounds domain.RoundStore, relay RelayTaskLister, audit domain.AuditStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		rounds:  rounds,
		relay:   relay,
		audit:   audit,
		logger:  logger,
	}
}

type marketView struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	ProposedOutcome uint8      `json:"proposedOutcome,omitempty"`
	ResolutionTime  time.Time  `json:"resolutionTime"`
	DisputeDeadline *time.Time `json:"disputeDeadline,omitempty"`
}

// GetMarket returns a market's on-chain state.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}

	v := marketView{
		ID:              m.ID,
		Question:        m.Question,
		Description:     m.Description,
		Status:          m.Status.String(),
		ProposedOutcome: uint8(m.ProposedOutcome),
		ResolutionTime:  m.ResolutionTime,
	}
	if !m.DisputeDeadline.IsZero() {
		d := m.DisputeDeadline
		v.DisputeDeadline = &d
	}
	writeJSON(w, http.StatusOK, v)
}

// ListRounds returns the recorded consensus rounds for a market.
// GET /api/markets/{id}/rounds?limit=50&offset=0
func (h *MarketHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	if h.rounds == nil {
		writeError(w, http.StatusNotFound, "round history not configured")
		return
	}
	opts := parseListOpts(r)
	rounds, err := h.rounds.ListByMarket(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list rounds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rounds": rounds,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

type relayTaskView struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListRelayTasks returns the relay tasks journaled for a market.
// GET /api/markets/{id}/relay-tasks
func (h *MarketHandler) ListRelayTasks(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		writeError(w, http.StatusNotFound, "relay journal not configured")
		return
	}
	tasks, err := h.relay.ListByMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list relay tasks", err)
		return
	}
	out := make([]relayTaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, relayTaskView{
			TaskID:    t.TaskID,
			Status:    string(t.Status),
			TxHash:    t.TxHash,
			Message:   t.LastCheckMsg,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// ListAudit returns audit log entries, oldest first.
// GET /api/audit?since=...&until=...&limit=50
func (h *MarketHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
