// Package pipeline holds the oracle's background maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// ArchiveJob moves audit history older than the retention window to cold
// storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiveJob creates an ArchiveJob keeping retentionDays of audit
// history in the primary store.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &ArchiveJob{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives once. The cutoff is truncated to the hour so reruns within
// the same hour target the same object.
func (j *ArchiveJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention).Truncate(time.Hour)
	n, err := j.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archiving audit before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger.InfoContext(ctx, "audit archive complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("archived", n),
	)
	return n, nil
}

// RunLoop archives immediately and then every interval until ctx ends.
func (j *ArchiveJob) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
