package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChain struct {
	mu        sync.Mutex
	status    map[string]domain.MarketStatus
	staleList bool
	verifyErr []error
	verifies  int
	lists     int
}

func newFakeChain(ids ...string) *fakeChain {
	c := &fakeChain{status: make(map[string]domain.MarketStatus)}
	for _, id := range ids {
		c.status[id] = domain.MarketResolving
	}
	return c
}

func (c *fakeChain) Verify(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifies++
	if len(c.verifyErr) > 0 {
		err := c.verifyErr[0]
		c.verifyErr = c.verifyErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return big.NewInt(56), nil
}

func (c *fakeChain) set(id string, st domain.MarketStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[id] = st
}

func (c *fakeChain) GetMarket(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return domain.Market{ID: id, Question: "Will it happen?", Status: st}, nil
}

func (c *fakeChain) ListMarketsByStatus(_ context.Context, st domain.MarketStatus) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++
	var out []string
	for id, s := range c.status {
		if s == st || c.staleList {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeResolver struct {
	err    error
	onCall func(marketID string)

	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (r *fakeResolver) GetConsensus(_ context.Context, req domain.ResolutionRequest, _ float64) (domain.ConsensusResult, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.onCall != nil {
		r.onCall(req.MarketID)
	}
	if r.err != nil {
		return domain.ConsensusResult{}, r.err
	}
	return domain.ConsensusResult{MarketID: req.MarketID, Outcome: domain.OutcomeYes, Confidence: 90, ConsensusCount: 3, TotalModels: 3}, nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	chain *fakeChain
	err   error
	calls []string
}

func (s *fakeSubmitter) Submit(_ context.Context, marketID string, _ domain.Outcome, _ int) (domain.TxReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, marketID)
	if s.err != nil {
		return domain.TxReceipt{}, s.err
	}
	s.chain.set(marketID, domain.MarketResolved)
	return domain.TxReceipt{MarketID: marketID, TxHash: "0x1", Strategy: domain.StrategyDirect}, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []domain.PipelineEvent
}

func (e *fakeEmitter) Emit(_ context.Context, ev domain.PipelineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func newWatcher(chain *fakeChain, r *fakeResolver, s *fakeSubmitter, e Emitter) *Watcher {
	return New(Config{Threshold: 0.8, MaxConcurrent: 2}, chain, chain, r, s, e, testLogger())
}

func TestCheckPendingResolutionsIdempotent(t *testing.T) {
	chain := newFakeChain("1")
	sub := &fakeSubmitter{chain: chain}
	events := &fakeEmitter{}
	w := newWatcher(chain, &fakeResolver{}, sub, events)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStats{Checked: 1, Processed: 1}, stats)
	assert.Equal(t, []string{domain.EventResolutionSubmitted}, events.types())

	stats, err = w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Len(t, sub.calls, 1)
}

func TestCheckSkipsMarketsNoLongerResolving(t *testing.T) {
	chain := newFakeChain("1")
	chain.set("1", domain.MarketResolved)
	chain.staleList = true
	sub := &fakeSubmitter{chain: chain}
	w := newWatcher(chain, &fakeResolver{}, sub, nil)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStats{Checked: 1, Skipped: 1}, stats)
	assert.Empty(t, sub.calls)
}

func TestCheckSkipsMarketResolvedDuringRound(t *testing.T) {
	chain := newFakeChain("1")
	sub := &fakeSubmitter{chain: chain}
	r := &fakeResolver{onCall: func(id string) { chain.set(id, domain.MarketResolved) }}
	w := newWatcher(chain, r, sub, nil)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Processed)
	assert.Empty(t, sub.calls)
}

func TestCheckCountsNoQuorum(t *testing.T) {
	chain := newFakeChain("1", "2")
	sub := &fakeSubmitter{chain: chain}
	events := &fakeEmitter{}
	r := &fakeResolver{err: &domain.NoQuorumError{MarketID: "x", TotalModels: 2, ConsensusCount: 1, MinQuorum: 3}}
	w := newWatcher(chain, r, sub, events)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStats{Checked: 2, NoQuorum: 2}, stats)
	assert.Empty(t, sub.calls)
	assert.Equal(t, []string{domain.EventResolutionNoQuorum, domain.EventResolutionNoQuorum}, events.types())
}

func TestCheckFatalSubmissionAlerts(t *testing.T) {
	chain := newFakeChain("1")
	sub := &fakeSubmitter{chain: chain, err: &domain.SubmissionError{MarketID: "1", Kind: domain.SubmissionFatal, Err: errors.New("execution reverted")}}
	events := &fakeEmitter{}
	w := newWatcher(chain, &fakeResolver{}, sub, events)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.EventSubmissionFailed, events.events[0].Type)
	assert.Equal(t, true, events.events[0].Data["fatal"])
}

func TestCheckInFlightCountsAsSkipped(t *testing.T) {
	chain := newFakeChain("1")
	sub := &fakeSubmitter{chain: chain, err: &domain.SubmissionError{MarketID: "1", Kind: domain.SubmissionRetryable, Err: domain.ErrSubmissionInFlight}}
	w := newWatcher(chain, &fakeResolver{}, sub, nil)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Errors)
}

func TestCheckBoundedConcurrency(t *testing.T) {
	chain := newFakeChain("1", "2", "3", "4", "5", "6")
	r := &fakeResolver{delay: 5 * time.Millisecond}
	w := newWatcher(chain, r, &fakeSubmitter{chain: chain}, nil)

	stats, err := w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Processed)
	assert.LessOrEqual(t, r.maxSeen.Load(), int32(2))
}

func TestInitializeRetriesAfterFailure(t *testing.T) {
	chain := newFakeChain()
	chain.verifyErr = []error{errors.New("dial tcp: refused")}
	w := newWatcher(chain, &fakeResolver{}, &fakeSubmitter{chain: chain}, nil)

	_, err := w.CheckPendingResolutions(context.Background())
	require.Error(t, err)
	assert.Nil(t, w.ChainID())

	_, err = w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)
	_, err = w.CheckPendingResolutions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, chain.verifies)
	assert.Equal(t, int64(56), w.ChainID().Int64())
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	chain := newFakeChain()
	w := newWatcher(chain, &fakeResolver{}, &fakeSubmitter{chain: chain}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunLoop(ctx, 2*time.Millisecond) }()

	require.Eventually(t, func() bool {
		chain.mu.Lock()
		defer chain.mu.Unlock()
		return chain.lists >= 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not stop")
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	assert.Equal(t, 1, chain.verifies)
}
