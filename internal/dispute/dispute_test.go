package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketoracle/internal/crypto"
	"github.com/alanyoungcy/marketoracle/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1").Hex()
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2").Hex()
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3").Hex()
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scenarioVotes() []domain.DisputeVote {
	mk := func(voter, stake string, choice domain.Outcome) domain.DisputeVote {
		return domain.DisputeVote{MarketID: "9", Voter: voter, StakedAmount: dec(stake), StakeWeight: Weight(dec(stake)), Choice: choice}
	}
	return []domain.DisputeVote{
		mk(alice, "100", domain.OutcomeYes),
		mk(bob, "400", domain.OutcomeNo),
		mk(carol, "25", domain.OutcomeYes),
	}
}

func TestTallyQuadraticWeights(t *testing.T) {
	votes := scenarioVotes()
	assert.InDelta(t, 10, votes[0].StakeWeight, 1e-9)
	assert.InDelta(t, 20, votes[1].StakeWeight, 1e-9)
	assert.InDelta(t, 5, votes[2].StakeWeight, 1e-9)

	tally := Tally("9", votes)
	assert.True(t, tally.Resolved)
	assert.Equal(t, domain.OutcomeNo, tally.Outcome)
	assert.InDelta(t, 15, tally.Weights[domain.OutcomeYes], 1e-9)
	assert.InDelta(t, 20, tally.Weights[domain.OutcomeNo], 1e-9)
	assert.InDelta(t, 35, tally.TotalWeight, 1e-9)
	assert.Equal(t, 3, tally.VoteCount)
	assert.Equal(t, 57, Confidence(tally))
}

func TestTallyTieUnresolved(t *testing.T) {
	votes := []domain.DisputeVote{
		{Voter: alice, StakeWeight: Weight(dec("16")), Choice: domain.OutcomeYes},
		{Voter: bob, StakeWeight: Weight(dec("16")), Choice: domain.OutcomeNo},
	}
	tally := Tally("9", votes)
	assert.False(t, tally.Resolved)
	assert.Equal(t, domain.OutcomeUnknown, tally.Outcome)
	assert.Zero(t, Confidence(tally))

	empty := Tally("9", nil)
	assert.False(t, empty.Resolved)
}

func TestSettleScenario(t *testing.T) {
	s := Settle("9", domain.OutcomeNo, scenarioVotes(), decimal.NewFromInt(20), time.Unix(0, 0))

	require.Len(t, s.Entries, 3)
	byVoter := map[string]domain.SettlementEntry{}
	for _, e := range s.Entries {
		byVoter[e.Voter] = e
	}
	assert.True(t, byVoter[alice].Slashed.Equal(dec("20")))
	assert.True(t, byVoter[carol].Slashed.Equal(dec("5")))
	assert.True(t, byVoter[bob].Slashed.IsZero())
	assert.True(t, s.SlashedPool.Equal(dec("25")))
	assert.True(t, byVoter[bob].Reward.Equal(dec("25")))
	assert.True(t, byVoter[alice].Reward.IsZero())
}

func TestSettleConservesPool(t *testing.T) {
	votes := []domain.DisputeVote{
		{Voter: alice, StakedAmount: dec("3"), Choice: domain.OutcomeYes},
		{Voter: bob, StakedAmount: dec("3"), Choice: domain.OutcomeYes},
		{Voter: carol, StakedAmount: dec("7"), Choice: domain.OutcomeYes},
		{Voter: common.HexToAddress("0xd4").Hex(), StakedAmount: dec("1"), Choice: domain.OutcomeNo},
	}
	s := Settle("9", domain.OutcomeYes, votes, decimal.NewFromInt(20), time.Unix(0, 0))

	rewards := decimal.Zero
	var carolReward decimal.Decimal
	for _, e := range s.Entries {
		rewards = rewards.Add(e.Reward)
		if e.Voter == carol {
			carolReward = e.Reward
		}
	}
	assert.True(t, s.SlashedPool.Equal(dec("0.2")))
	assert.True(t, rewards.Equal(s.SlashedPool), "rewards %s pool %s", rewards, s.SlashedPool)
	assert.True(t, carolReward.GreaterThan(dec("0.1")))
}

func TestSettleNoCorrectVoters(t *testing.T) {
	votes := []domain.DisputeVote{{Voter: alice, StakedAmount: dec("50"), Choice: domain.OutcomeYes}}
	s := Settle("9", domain.OutcomeNo, votes, decimal.NewFromInt(20), time.Unix(0, 0))
	assert.True(t, s.SlashedPool.Equal(dec("10")))
	assert.True(t, s.Entries[0].Reward.IsZero())
}

type arbiterFixture struct {
	arbiter   *Arbiter
	markets   *fakeMarkets
	votes     *fakeVotes
	slasher   *fakeSlasher
	submitter *fakeSubmitter
	events    *fakeEmitter
	now       time.Time
}

func newFixture(t *testing.T) *arbiterFixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &arbiterFixture{
		markets: &fakeMarkets{market: domain.Market{
			ID:              "9",
			Status:          domain.MarketDisputed,
			DisputeDeadline: now.Add(time.Hour),
		}},
		votes:     &fakeVotes{},
		slasher:   &fakeSlasher{},
		submitter: &fakeSubmitter{},
		events:    &fakeEmitter{},
		now:       now,
	}
	ledger := fakeLedger{alice: dec("100"), bob: dec("400"), carol: dec("25")}
	f.arbiter = NewArbiter(Deps{
		Markets:   f.markets,
		Votes:     f.votes,
		Stakes:    ledger,
		Slasher:   f.slasher,
		Submitter: f.submitter,
		Events:    f.events,
	}, decimal.Zero, testLogger())
	f.arbiter.now = func() time.Time { return f.now }
	return f
}

func TestArbiterScenarioEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, b := range []struct {
		voter  string
		choice domain.Outcome
	}{{alice, domain.OutcomeYes}, {bob, domain.OutcomeNo}, {carol, domain.OutcomeYes}} {
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: b.voter, Choice: b.choice})
		require.NoError(t, err)
	}

	_, err := f.arbiter.TallyDisputeVotes(ctx, "9")
	require.ErrorIs(t, err, domain.ErrDisputeWindowOpen)

	f.now = f.now.Add(2 * time.Hour)
	tally, err := f.arbiter.TallyDisputeVotes(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, tally.Outcome)

	s, err := f.arbiter.Finalize(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, s.FinalOutcome)
	assert.True(t, s.SlashPercent.Equal(decimal.NewFromInt(20)))
	assert.True(t, s.SlashedPool.Equal(dec("25")))
	require.Len(t, f.slasher.applied, 1)
	assert.Equal(t, 1, f.submitter.calls)
	assert.Equal(t, domain.OutcomeNo, f.submitter.outcome)
	assert.Equal(t, 57, f.submitter.confidence)
	assert.Contains(t, f.events.types, domain.EventDisputeFinalized)
}

func TestCastVoteRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeYes})
		require.NoError(t, err)
		_, err = f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeNo})
		assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
		assert.Len(t, f.votes.votes, 1)
	})

	t.Run("no stake", func(t *testing.T) {
		f := newFixture(t)
		stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee").Hex()
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: stranger, Choice: domain.OutcomeYes})
		assert.ErrorIs(t, err, domain.ErrNoStake)
	})

	t.Run("window closed", func(t *testing.T) {
		f := newFixture(t)
		f.markets.setDeadline(f.now.Add(-time.Minute))
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeYes})
		assert.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
	})

	t.Run("not disputed", func(t *testing.T) {
		f := newFixture(t)
		f.markets.market.Status = domain.MarketResolved
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeYes})
		assert.ErrorIs(t, err, domain.ErrMarketNotDisputed)
	})

	t.Run("bad choice", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeUnknown})
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})

	t.Run("bad address", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: "alice", Choice: domain.OutcomeYes})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestCastVoteSignature(t *testing.T) {
	const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	signer, err := crypto.NewSigner(devKey, 56)
	require.NoError(t, err)
	voter := signer.Address().Hex()

	f := newFixture(t)
	f.arbiter.deps.Stakes = fakeLedger{voter: dec("49")}
	f.arbiter.deps.Verify = crypto.VerifyPersonalSign

	sig, err := signer.SignPersonal(VoteMessage("9", domain.OutcomeNo))
	require.NoError(t, err)

	_, err = f.arbiter.CastVote(context.Background(), VoteRequest{MarketID: "9", Voter: voter, Choice: domain.OutcomeYes, Signature: sig})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	vote, err := f.arbiter.CastVote(context.Background(), VoteRequest{MarketID: "9", Voter: voter, Choice: domain.OutcomeNo, Signature: sig})
	require.NoError(t, err)
	assert.InDelta(t, 7, vote.StakeWeight, 1e-9)
}

func TestFinalizeTie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.arbiter.deps.Stakes = fakeLedger{alice: dec("100"), bob: dec("100")}

	_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeYes})
	require.NoError(t, err)
	_, err = f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: bob, Choice: domain.OutcomeNo})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.arbiter.Finalize(ctx, "9")
	assert.ErrorIs(t, err, domain.ErrDisputeTie)
	assert.Empty(t, f.slasher.applied)
	assert.Zero(t, f.submitter.calls)
	assert.Contains(t, f.events.types, domain.EventDisputeTie)
}

func TestFinalizeSubmitFailureKeepsSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: bob, Choice: domain.OutcomeNo})
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Hour)
	f.submitter.err = &domain.SubmissionError{MarketID: "9", Kind: domain.SubmissionRetryable, Err: errors.New("nonce too low")}

	s, err := f.arbiter.Finalize(ctx, "9")
	require.Error(t, err)
	assert.False(t, domain.IsFatalSubmission(err))
	assert.Equal(t, domain.OutcomeNo, s.FinalOutcome)
	assert.Len(t, f.slasher.applied, 1)
}

func TestFinalizeRequiresDisputed(t *testing.T) {
	f := newFixture(t)
	f.markets.market.Status = domain.MarketResolved
	_, err := f.arbiter.Finalize(context.Background(), "9")
	assert.ErrorIs(t, err, domain.ErrMarketNotDisputed)
}

func TestFinalizeCapsSlashAtCurrentStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := fakeLedger{alice: dec("100"), bob: dec("400"), carol: dec("25")}
	f.arbiter.deps.Stakes = ledger
	f.slasher.balances = ledger

	for _, b := range []struct {
		voter  string
		choice domain.Outcome
	}{{alice, domain.OutcomeYes}, {bob, domain.OutcomeNo}, {carol, domain.OutcomeYes}} {
		_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: b.voter, Choice: b.choice})
		require.NoError(t, err)
	}
	ledger[alice] = dec("10")
	before := ledger[alice].Add(ledger[bob]).Add(ledger[carol])

	f.now = f.now.Add(2 * time.Hour)
	s, err := f.arbiter.Finalize(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, 2, f.slasher.calls)
	require.Len(t, f.slasher.applied, 1)

	byVoter := map[string]domain.SettlementEntry{}
	for _, e := range s.Entries {
		byVoter[e.Voter] = e
	}
	assert.True(t, byVoter[alice].Slashed.Equal(dec("2")), byVoter[alice].Slashed.String())
	assert.True(t, byVoter[carol].Slashed.Equal(dec("5")))
	assert.True(t, s.SlashedPool.Equal(dec("7")))
	assert.True(t, byVoter[bob].Reward.Equal(dec("7")))

	after := ledger[alice].Add(ledger[bob]).Add(ledger[carol])
	assert.True(t, before.Equal(after), "before %s after %s", before, after)
	assert.True(t, ledger[alice].Equal(dec("8")))
}

func TestFinalizeGivesUpWhenStakesKeepMoving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: alice, Choice: domain.OutcomeYes})
	require.NoError(t, err)
	_, err = f.arbiter.CastVote(ctx, VoteRequest{MarketID: "9", Voter: bob, Choice: domain.OutcomeNo})
	require.NoError(t, err)
	// The ledger the slasher checks has drained alice entirely.
	f.slasher.balances = fakeLedger{alice: decimal.Zero, bob: dec("400")}

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.arbiter.Finalize(ctx, "9")
	require.ErrorIs(t, err, domain.ErrStakeChanged)
	assert.Equal(t, settleAttempts, f.slasher.calls)
	assert.Empty(t, f.slasher.applied)
	assert.Zero(t, f.submitter.calls)
}
