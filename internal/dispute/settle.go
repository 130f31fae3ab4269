package dispute

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const stakePrecision = 18

var hundred = decimal.NewFromInt(100)

// Settle slashes every voter whose choice differs from final by
// slashPercent of their stake and splits the slashed pool between the
// correct voters pro-rata by stake. Rounding dust goes to the largest
// correct staker so rewards always sum to the pool. With no correct voter
// the pool is left undistributed.
func Settle(marketID string, final domain.Outcome, votes []domain.DisputeVote, slashPercent decimal.Decimal, now time.Time) domain.Settlement {
	s := domain.Settlement{
		MarketID:     marketID,
		FinalOutcome: final,
		SlashPercent: slashPercent,
		SlashedPool:  decimal.Zero,
		FinalizedAt:  now.UTC(),
	}

	sorted := make([]domain.DisputeVote, len(votes))
	copy(sorted, votes)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Voter) < strings.ToLower(sorted[j].Voter)
	})

	correctStake := decimal.Zero
	for _, v := range sorted {
		e := domain.SettlementEntry{
			Voter:       v.Voter,
			Choice:      v.Choice,
			Correct:     v.Choice == final,
			StakeBefore: v.StakedAmount,
			Slashed:     decimal.Zero,
			Reward:      decimal.Zero,
		}
		if e.Correct {
			correctStake = correctStake.Add(v.StakedAmount)
		} else {
			e.Slashed = v.StakedAmount.Mul(slashPercent).Div(hundred).Truncate(stakePrecision)
			s.SlashedPool = s.SlashedPool.Add(e.Slashed)
		}
		s.Entries = append(s.Entries, e)
	}

	if !s.SlashedPool.IsPositive() || !correctStake.IsPositive() {
		return s
	}

	distributed := decimal.Zero
	largest := -1
	for i := range s.Entries {
		e := &s.Entries[i]
		if !e.Correct {
			continue
		}
		e.Reward = s.SlashedPool.Mul(e.StakeBefore).DivRound(correctStake, stakePrecision+4).Truncate(stakePrecision)
		distributed = distributed.Add(e.Reward)
		if largest < 0 || e.StakeBefore.GreaterThan(s.Entries[largest].StakeBefore) {
			largest = i
		}
	}
	if dust := s.SlashedPool.Sub(distributed); !dust.IsZero() {
		s.Entries[largest].Reward = s.Entries[largest].Reward.Add(dust)
	}
	return s
}
