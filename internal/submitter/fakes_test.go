package submitter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/platform/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	mu     sync.Mutex
	status map[string]domain.MarketStatus
	reads  int
}

func newFakeMarkets(id string, st domain.MarketStatus) *fakeMarkets {
	return &fakeMarkets{status: map[string]domain.MarketStatus{id: st}}
}

func (f *fakeMarkets) set(id string, st domain.MarketStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = st
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	st, ok := f.status[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return domain.Market{ID: id, Status: st}, nil
}

func (f *fakeMarkets) ListMarketsByStatus(_ context.Context, st domain.MarketStatus) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, s := range f.status {
		if s == st {
			out = append(out, id)
		}
	}
	return out, nil
}

// fakeRelay honors idempotency keys the way the relay does: a repeated key
// returns the task first registered under it.
type fakeRelay struct {
	mu        sync.Mutex
	created   int
	calls     int
	keys      map[string]string
	createErr []error
	// lostReply errors are returned after the task was registered, as when
	// the response is lost to a client timeout.
	lostReply []error
	state     string
	message   string
	polls     int
}

func (f *fakeRelay) CreateTask(_ context.Context, chainID int64, target string, data []byte, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return "", err
		}
	}
	id, ok := f.keys[key]
	if !ok || key == "" {
		f.created++
		id = fmt.Sprintf("task-%d", f.created)
		if f.keys == nil {
			f.keys = make(map[string]string)
		}
		f.keys[key] = id
	}
	if len(f.lostReply) > 0 {
		err := f.lostReply[0]
		f.lostReply = f.lostReply[1:]
		return "", err
	}
	return id, nil
}

func (f *fakeRelay) GetTask(_ context.Context, id string) (relay.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	st := relay.TaskStatus{TaskID: id, TaskState: f.state, LastCheckMessage: f.message}
	if f.state == relay.StateExecSuccess {
		st.TransactionHash = "0xabc"
		st.BlockNumber = 77
	}
	return st, nil
}

func (f *fakeRelay) setState(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeRelay) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeRelay) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// timeoutError is a net.Error reporting a client-side timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type fakeJournal struct {
	mu    sync.Mutex
	tasks map[string]domain.RelayTask
}

func (f *fakeJournal) Save(_ context.Context, t domain.RelayTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tasks == nil {
		f.tasks = make(map[string]domain.RelayTask)
	}
	f.tasks[t.TaskID] = t
	return nil
}

func (f *fakeJournal) ListByMarket(_ context.Context, marketID string) ([]domain.RelayTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RelayTask
	for _, t := range f.tasks {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSender struct {
	mu       sync.Mutex
	sent     int
	sendErr  error
	waits    []error
	reverted bool
}

func (f *fakeSender) Send(_ context.Context, _ common.Address, _ []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent++
	return common.BigToHash(big.NewInt(int64(f.sent))), nil
}

func (f *fakeSender) WaitReceipt(_ context.Context, hash common.Hash, _ time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.waits) > 0 {
		err := f.waits[0]
		f.waits = f.waits[1:]
		if err != nil {
			return nil, err
		}
	}
	rcpt := &types.Receipt{TxHash: hash, BlockNumber: big.NewInt(100), Status: types.ReceiptStatusSuccessful}
	if f.reverted {
		rcpt.Status = types.ReceiptStatusFailed
		return rcpt, fmt.Errorf("chain: transaction %s reverted", hash.Hex())
	}
	return rcpt, nil
}

// blockingStrategy parks every attempt until release is closed.
type blockingStrategy struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStrategy) Name() domain.SubmissionStrategy { return domain.StrategyDirect }

func (b *blockingStrategy) Attempt(ctx context.Context, sub *Submission) (domain.TxReceipt, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return domain.TxReceipt{TxHash: "0x1", Strategy: domain.StrategyDirect}, nil
	case <-ctx.Done():
		return domain.TxReceipt{}, ctx.Err()
	}
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

