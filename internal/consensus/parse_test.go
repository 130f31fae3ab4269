package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

func TestParseVote(t *testing.T) {
	for _, tc := range []struct {
		name    string
		text    string
		outcome domain.Outcome
		conf    int
		ok      bool
	}{
		{"plain json", `{"outcome":"YES","confidence":85,"reasoning":"x"}`, domain.OutcomeYes, 85, true},
		{"code fence", "```json\n{\"outcome\": \"no\", \"confidence\": 72}\n```", domain.OutcomeNo, 72, true},
		{"prose around json", `Sure. {"outcome":"INVALID","confidence":40} Hope that helps {}`, domain.OutcomeInvalid, 40, true},
		{"numeric outcome", `{"outcome":2,"confidence":0.9}`, domain.OutcomeNo, 90, true},
		{"missing confidence", `{"outcome":"YES"}`, domain.OutcomeYes, 50, true},
		{"string confidence", `{"outcome":"YES","confidence":"65%"}`, domain.OutcomeYes, 65, true},
		{"clamped confidence", `{"outcome":"YES","confidence":140}`, domain.OutcomeYes, 100, true},
		{"braces inside strings", `{"reasoning":"a {nested} }", "outcome":"NO","confidence":55}`, domain.OutcomeNo, 55, true},
		{"first object without outcome skipped", `{"note":1} {"outcome":"YES","confidence":60}`, domain.OutcomeYes, 60, true},
		{"bad outcome value", `{"outcome":"MAYBE"}`, domain.OutcomeUnknown, 0, false},
		{"field heuristic", "Outcome: yes\nConfidence: 77", domain.OutcomeYes, 77, true},
		{"single keyword", "After review the answer is NO.", domain.OutcomeNo, 50, true},
		{"repeated keyword", "YES. Definitely YES. confidence 88", domain.OutcomeYes, 88, true},
		{"ambiguous keywords", "It could be YES or NO.", domain.OutcomeUnknown, 0, false},
		{"lowercase keyword", "The answer is yes.", domain.OutcomeYes, 50, true},
		{"mixed case keywords agree", "Yes. The market resolves YES, confidence: 70", domain.OutcomeYes, 70, true},
		{"lowercase ambiguous", "yes or no, hard to say", domain.OutcomeUnknown, 0, false},
		{"keyword inside word ignored", "Nobody knows, but invalid data says so", domain.OutcomeInvalid, 50, true},
		{"nothing", "I cannot help with that.", domain.OutcomeUnknown, 0, false},
		{"unterminated json uses field heuristic", `{"outcome": "YES", ` + "\nconfidence: 61", domain.OutcomeYes, 61, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o, c, ok := ParseVote(tc.text)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.outcome, o)
			assert.Equal(t, tc.conf, c)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(domain.ResolutionRequest{
		Question:     "Will ETH trade above $5,000?",
		Context:      "Resolves YES on a Binance close above 5000.",
		PriceContext: "ETH/USDT close 5123.4",
		RequestedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Contains(t, p, "Question: Will ETH trade above $5,000?")
	assert.Contains(t, p, "Binance close above 5000")
	assert.Contains(t, p, "ETH/USDT close 5123.4")
	assert.Contains(t, p, "2026-03-01 00:00 UTC")
	assert.True(t, strings.HasSuffix(p, answerSchema))

	bare := BuildPrompt(domain.ResolutionRequest{Question: "Q?"})
	assert.NotContains(t, bare, "Price data")
	assert.NotContains(t, bare, "Resolution time")
}
