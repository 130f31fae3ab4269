package dispute

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	mu     sync.Mutex
	market domain.Market
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.market.ID {
		return domain.Market{}, domain.ErrNotFound
	}
	return f.market, nil
}

func (f *fakeMarkets) ListMarketsByStatus(context.Context, domain.MarketStatus) ([]string, error) {
	return nil, nil
}

func (f *fakeMarkets) setDeadline(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.market.DisputeDeadline = t
}

type fakeVotes struct {
	mu    sync.Mutex
	votes []domain.DisputeVote
}

func (f *fakeVotes) Insert(_ context.Context, v domain.DisputeVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.votes {
		if existing.MarketID == v.MarketID && strings.EqualFold(existing.Voter, v.Voter) {
			return domain.ErrAlreadyVoted
		}
	}
	f.votes = append(f.votes, v)
	return nil
}

func (f *fakeVotes) ListByMarket(_ context.Context, marketID string) ([]domain.DisputeVote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DisputeVote
	for _, v := range f.votes {
		if v.MarketID == marketID {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeLedger map[string]decimal.Decimal

func (f fakeLedger) GetStake(_ context.Context, address string) (domain.ReputationStake, error) {
	amt, ok := f[address]
	if !ok {
		return domain.ReputationStake{}, domain.ErrNotFound
	}
	return domain.ReputationStake{Address: address, StakedAmount: amt, Tier: domain.TierFor(amt)}, nil
}

// fakeSlasher records settlements. With balances set it behaves like the
// ledger: a slash above the held balance is rejected and accepted
// settlements move the balances.
type fakeSlasher struct {
	applied  []domain.Settlement
	calls    int
	balances fakeLedger
}

func (f *fakeSlasher) ApplySettlement(_ context.Context, s domain.Settlement) error {
	f.calls++
	if f.balances != nil {
		for _, e := range s.Entries {
			if f.balances[e.Voter].LessThan(e.Slashed) {
				return domain.ErrStakeChanged
			}
		}
		for _, e := range s.Entries {
			f.balances[e.Voter] = f.balances[e.Voter].Add(e.Reward).Sub(e.Slashed)
		}
	}
	f.applied = append(f.applied, s)
	return nil
}

type fakeSubmitter struct {
	outcome    domain.Outcome
	confidence int
	calls      int
	err        error
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, o domain.Outcome, c int) (domain.TxReceipt, error) {
	f.calls++
	f.outcome, f.confidence = o, c
	if f.err != nil {
		return domain.TxReceipt{}, f.err
	}
	return domain.TxReceipt{TxHash: "0xfeed"}, nil
}

type fakeEmitter struct {
	types []string
}

func (f *fakeEmitter) Emit(_ context.Context, ev domain.PipelineEvent) {
	f.types = append(f.types, ev.Type)
}
