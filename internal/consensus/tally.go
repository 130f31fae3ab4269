package consensus

import (
	"math"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// ratioEpsilon absorbs float error when the ratio sits exactly on the
// threshold (4/5 against 0.8).
const ratioEpsilon = 1e-9

// Tally is the pure reduction of a round's votes.
type Tally struct {
	Outcome        domain.Outcome
	ConsensusCount int
	TotalModels    int
	Ratio          float64
	Confidence     int
	Accepted       bool
}

// Compute reduces votes to a tally. Abstentions are excluded from the
// denominator. The majority is the plurality among Yes, No and Invalid and a
// tie for first place resolves to Invalid. The round is accepted when the
// agreement ratio reaches threshold and at least minQuorum models voted.
func Compute(votes []domain.ProviderVote, threshold float64, minQuorum int) Tally {
	counts := make(map[domain.Outcome]int, 3)
	total := 0
	for _, v := range votes {
		if !v.Counts() {
			continue
		}
		counts[v.Outcome]++
		total++
	}

	t := Tally{TotalModels: total, Outcome: domain.OutcomeInvalid}
	if total == 0 {
		return t
	}

	best, tied := 0, false
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeInvalid} {
		switch n := counts[o]; {
		case n > best:
			best, tied = n, false
			t.Outcome = o
		case n == best && n > 0:
			tied = true
		}
	}
	if tied {
		t.Outcome = domain.OutcomeInvalid
	}

	t.ConsensusCount = counts[t.Outcome]
	t.Ratio = float64(t.ConsensusCount) / float64(total)

	sum := 0
	for _, v := range votes {
		if v.Counts() && v.Outcome == t.Outcome {
			sum += v.Confidence
		}
	}
	mean := 0.0
	if t.ConsensusCount > 0 {
		mean = float64(sum) / float64(t.ConsensusCount)
	}
	conf := math.Round((t.Ratio*100 + mean) / 2)
	t.Confidence = int(math.Max(0, math.Min(100, conf)))

	t.Accepted = t.ConsensusCount > 0 &&
		t.Ratio+ratioEpsilon >= threshold &&
		total >= minQuorum
	return t
}
