package dispute

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const weightEpsilon = 1e-9

// Weight is the quadratic voting weight of a stake.
func Weight(staked decimal.Decimal) float64 {
	if !staked.IsPositive() {
		return 0
	}
	return math.Sqrt(staked.InexactFloat64())
}

// Tally sums vote weights per choice. The choice with the greatest total
// weight wins; a tie at the top, or no votes at all, leaves the tally
// unresolved.
func Tally(marketID string, votes []domain.DisputeVote) domain.DisputeTally {
	t := domain.DisputeTally{
		MarketID:  marketID,
		Weights:   make(map[domain.Outcome]float64),
		VoteCount: len(votes),
	}
	for _, v := range votes {
		t.Weights[v.Choice] += v.StakeWeight
		t.TotalWeight += v.StakeWeight
	}

	choices := make([]domain.Outcome, 0, len(t.Weights))
	for o := range t.Weights {
		choices = append(choices, o)
	}
	sort.Slice(choices, func(i, j int) bool {
		return t.Weights[choices[i]] > t.Weights[choices[j]]
	})

	if len(choices) == 0 || t.Weights[choices[0]] <= 0 {
		return t
	}
	if len(choices) > 1 && math.Abs(t.Weights[choices[0]]-t.Weights[choices[1]]) < weightEpsilon {
		return t
	}
	t.Outcome = choices[0]
	t.Resolved = true
	return t
}

// Confidence expresses the winning share of weight as 0-100.
func Confidence(t domain.DisputeTally) int {
	if !t.Resolved || t.TotalWeight <= 0 {
		return 0
	}
	c := int(math.Round(100 * t.Weights[t.Outcome] / t.TotalWeight))
	return min(max(c, 0), 100)
}
