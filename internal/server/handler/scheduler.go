package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// PendingChecker runs one watcher tick.
type PendingChecker interface {
	CheckPendingResolutions(ctx context.Context) (domain.CheckStats, error)
}

// SchedulerHandler lets an external scheduler drive the watcher.
type SchedulerHandler struct {
	checker PendingChecker
	logger  *slog.Logger
}

// NewSchedulerHandler creates a SchedulerHandler.
func NewSchedulerHandler(checker PendingChecker, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{checker: checker, logger: logger}
}

// Check runs one pass over Resolving markets and returns its counters.
// POST /api/scheduler/check
func (h *SchedulerHandler) Check(w http.ResponseWriter, r *http.Request) {
	stats, err := h.checker.CheckPendingResolutions(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "scheduler check", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: scheduler check",
		slog.Int("checked", stats.Checked),
		slog.Int("processed", stats.Processed),
		slog.Int("errors", stats.Errors),
	)
	writeJSON(w, http.StatusOK, stats)
}
