// Package dispute arbitrates challenged resolutions with quadratic
// stake-weighted voting and settles the outcome against voter stakes.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// DefaultSlashPercent is applied to losing voters when none is configured.
var DefaultSlashPercent = decimal.NewFromInt(20)

// settleAttempts bounds how often Finalize rebuilds a settlement whose
// stakes moved before it could be applied.
const settleAttempts = 3

// Submitter writes the finalized outcome on-chain.
type Submitter interface {
	Submit(ctx context.Context, marketID string, outcome domain.Outcome, confidence int) (domain.TxReceipt, error)
}

// Emitter receives pipeline events.
type Emitter interface {
	Emit(ctx context.Context, ev domain.PipelineEvent)
}

// SignatureVerifier checks that sig is a personal signature of message by
// address.
type SignatureVerifier func(address, message, sig string) error

// VoteRequest is a voter's ballot.
type VoteRequest struct {
	MarketID  string
	Voter     string
	Choice    domain.Outcome
	Signature string
}

// VoteMessage is the text a voter signs for a ballot.
func VoteMessage(marketID string, choice domain.Outcome) string {
	return "dispute:" + marketID + ":" + choice.String()
}

// Deps bundles the Arbiter's ports.
type Deps struct {
	Markets   domain.MarketReader
	Votes     domain.DisputeVoteStore
	Stakes    domain.StakeLedger
	Slasher   domain.StakeSlasher
	Submitter Submitter
	Audit     domain.AuditStore
	Events    Emitter
	Verify    SignatureVerifier
}

// Arbiter runs dispute votes for markets in the Disputed state.
type Arbiter struct {
	deps         Deps
	slashPercent decimal.Decimal
	logger       *slog.Logger
	now          func() time.Time
}

// NewArbiter creates an Arbiter. Audit, Events and Verify are optional;
// without Verify ballots are accepted unsigned.
func NewArbiter(deps Deps, slashPercent decimal.Decimal, logger *slog.Logger) *Arbiter {
	if !slashPercent.IsPositive() {
		slashPercent = DefaultSlashPercent
	}
	return &Arbiter{
		deps:         deps,
		slashPercent: slashPercent,
		logger:       logger.With(slog.String("component", "dispute")),
		now:          time.Now,
	}
}

// CastVote records req. The market must be Disputed with its window open,
// the voter must hold stake and may vote once.
func (a *Arbiter) CastVote(ctx context.Context, req VoteRequest) (domain.DisputeVote, error) {
	if !req.Choice.Valid() {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w", domain.ErrInvalidOutcome)
	}
	if !common.IsHexAddress(req.Voter) {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w: voter address %q", domain.ErrInvalidInput, req.Voter)
	}
	voter := common.HexToAddress(req.Voter).Hex()

	if a.deps.Verify != nil {
		if err := a.deps.Verify(voter, VoteMessage(req.MarketID, req.Choice), req.Signature); err != nil {
			return domain.DisputeVote{}, &domain.AuthenticationError{Reason: "vote signature: " + err.Error()}
		}
	}

	m, err := a.deps.Markets.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: read market: %w", err)
	}
	now := a.now()
	if m.Status != domain.MarketDisputed {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w (status %s)", domain.ErrMarketNotDisputed, m.Status)
	}
	if !m.DisputeWindowOpen(now) {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w", domain.ErrDisputeWindowClosed)
	}

	stake, err := a.deps.Stakes.GetStake(ctx, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: read stake: %w", err)
	}
	if err != nil || !stake.StakedAmount.IsPositive() {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w", domain.ErrNoStake)
	}

	vote := domain.DisputeVote{
		MarketID:     req.MarketID,
		Voter:        voter,
		StakedAmount: stake.StakedAmount,
		StakeWeight:  Weight(stake.StakedAmount),
		Choice:       req.Choice,
		Signature:    req.Signature,
		CastAt:       now.UTC(),
	}
	if err := a.deps.Votes.Insert(ctx, vote); err != nil {
		return domain.DisputeVote{}, fmt.Errorf("dispute: cast vote: %w", err)
	}

	a.logger.InfoContext(ctx, "dispute vote cast",
		slog.String("market_id", vote.MarketID),
		slog.String("voter", vote.Voter),
		slog.String("choice", vote.Choice.String()),
		slog.Float64("weight", vote.StakeWeight),
	)
	detail := map[string]any{
		"voter":  vote.Voter,
		"choice": vote.Choice.String(),
		"stake":  vote.StakedAmount.String(),
		"weight": vote.StakeWeight,
	}
	a.audit(ctx, domain.EventDisputeVoteCast, vote.MarketID, detail)
	a.emit(ctx, domain.EventDisputeVoteCast, vote.MarketID, detail)
	return vote, nil
}

// TallyDisputeVotes sums the votes once the dispute window has closed.
func (a *Arbiter) TallyDisputeVotes(ctx context.Context, marketID string) (domain.DisputeTally, error) {
	t, _, err := a.tally(ctx, marketID)
	return t, err
}

func (a *Arbiter) tally(ctx context.Context, marketID string) (domain.DisputeTally, []domain.DisputeVote, error) {
	m, err := a.deps.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return domain.DisputeTally{}, nil, fmt.Errorf("dispute: tally: read market: %w", err)
	}
	if m.DisputeWindowOpen(a.now()) {
		return domain.DisputeTally{}, nil, fmt.Errorf("dispute: tally: %w until %s", domain.ErrDisputeWindowOpen, m.DisputeDeadline.UTC().Format(time.RFC3339))
	}
	votes, err := a.deps.Votes.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.DisputeTally{}, nil, fmt.Errorf("dispute: tally: list votes: %w", err)
	}
	return Tally(marketID, votes), votes, nil
}

// Finalize tallies a closed dispute, applies the settlement to voter
// stakes and submits the winning outcome. A tied tally returns
// ErrDisputeTie and is left for governance. Settlements are idempotent in
// the staking ledger, so a Finalize whose submission failed may be rerun.
func (a *Arbiter) Finalize(ctx context.Context, marketID string) (domain.Settlement, error) {
	m, err := a.deps.Markets.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("dispute: finalize: read market: %w", err)
	}
	if m.Status != domain.MarketDisputed {
		return domain.Settlement{}, fmt.Errorf("dispute: finalize: %w (status %s)", domain.ErrMarketNotDisputed, m.Status)
	}

	t, votes, err := a.tally(ctx, marketID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if !t.Resolved {
		a.logger.WarnContext(ctx, "dispute tied",
			slog.String("market_id", marketID),
			slog.Int("votes", t.VoteCount),
		)
		detail := map[string]any{"votes": t.VoteCount, "weights": weightsDetail(t)}
		a.audit(ctx, domain.EventDisputeTie, marketID, detail)
		a.emit(ctx, domain.EventDisputeTie, marketID, detail)
		return domain.Settlement{}, fmt.Errorf("dispute: finalize: %w", domain.ErrDisputeTie)
	}

	s, err := a.settle(ctx, marketID, t.Outcome, votes)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("dispute: finalize: apply settlement: %w", err)
	}

	rcpt, err := a.deps.Submitter.Submit(ctx, marketID, t.Outcome, Confidence(t))
	if err != nil {
		return s, fmt.Errorf("dispute: finalize: submit: %w", err)
	}

	a.logger.InfoContext(ctx, "dispute finalized",
		slog.String("market_id", marketID),
		slog.String("outcome", t.Outcome.String()),
		slog.String("slashed_pool", s.SlashedPool.String()),
		slog.String("tx_hash", rcpt.TxHash),
	)
	detail := map[string]any{
		"outcome":      t.Outcome.String(),
		"slashed_pool": s.SlashedPool.String(),
		"voters":       len(s.Entries),
		"weights":      weightsDetail(t),
		"tx_hash":      rcpt.TxHash,
	}
	a.audit(ctx, domain.EventDisputeFinalized, marketID, detail)
	a.emit(ctx, domain.EventDisputeFinalized, marketID, detail)
	return s, nil
}

// settle builds the settlement from the stakes recorded with the votes and
// applies it. The ledger rejects a settlement whose slashes exceed the
// balances it holds; the settlement is then rebuilt against current
// balances.
func (a *Arbiter) settle(ctx context.Context, marketID string, final domain.Outcome, votes []domain.DisputeVote) (domain.Settlement, error) {
	basis := votes
	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		if attempt > 1 {
			if basis, err = a.capToBalances(ctx, votes); err != nil {
				return domain.Settlement{}, err
			}
		}
		s := Settle(marketID, final, basis, a.slashPercent, a.now())
		err = a.deps.Slasher.ApplySettlement(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, domain.ErrStakeChanged) {
			return domain.Settlement{}, err
		}
		a.logger.WarnContext(ctx, "stakes changed since voting, rebuilding settlement",
			slog.String("market_id", marketID),
			slog.Int("attempt", attempt),
		)
	}
	return domain.Settlement{}, err
}

// capToBalances lowers each vote's stake to the voter's current balance so
// a slash never exceeds what the ledger still holds. A voter whose stake
// row is gone counts as zero.
func (a *Arbiter) capToBalances(ctx context.Context, votes []domain.DisputeVote) ([]domain.DisputeVote, error) {
	out := make([]domain.DisputeVote, len(votes))
	for i, v := range votes {
		st, err := a.deps.Stakes.GetStake(ctx, v.Voter)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			st.StakedAmount = decimal.Zero
		case err != nil:
			return nil, fmt.Errorf("read stake %s: %w", v.Voter, err)
		}
		if st.StakedAmount.LessThan(v.StakedAmount) {
			v.StakedAmount = st.StakedAmount
		}
		out[i] = v
	}
	return out, nil
}

func weightsDetail(t domain.DisputeTally) string {
	var b strings.Builder
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeInvalid} {
		if w, ok := t.Weights[o]; ok {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%.4f", o, w)
		}
	}
	return b.String()
}

func (a *Arbiter) audit(ctx context.Context, event, marketID string, detail map[string]any) {
	if a.deps.Audit == nil {
		return
	}
	if err := a.deps.Audit.Log(ctx, event, marketID, detail); err != nil {
		a.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (a *Arbiter) emit(ctx context.Context, event, marketID string, data map[string]any) {
	if a.deps.Events == nil {
		return
	}
	a.deps.Events.Emit(ctx, domain.PipelineEvent{Type: event, MarketID: marketID, Data: data, Timestamp: a.now().UTC()})
}
