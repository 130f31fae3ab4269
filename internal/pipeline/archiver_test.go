package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveRound(context.Context, domain.RoundRecord) (string, error) {
	return "", nil
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 7, f.err
}

func TestArchiveJobCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	j := NewArchiveJob(fa, 10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.now = func() time.Time { return time.Date(2026, 5, 20, 13, 45, 0, 0, time.UTC) }

	n, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.Len(t, fa.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 5, 10, 13, 0, 0, 0, time.UTC), fa.cutoffs[0])
}

func TestArchiveJobError(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("s3 down")}
	j := NewArchiveJob(fa, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
}

func TestArchiveJobLoopStops(t *testing.T) {
	fa := &fakeArchiver{}
	j := NewArchiveJob(fa, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := j.RunLoop(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fa.cutoffs, 1)
}
