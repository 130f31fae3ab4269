package consensus

import (
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const answerSchema = `{"outcome":"YES|NO|INVALID","confidence":0-100,"reasoning":"one or two sentences"}`

// BuildPrompt renders the resolution prompt for one market.
func BuildPrompt(req domain.ResolutionRequest) string {
	var b strings.Builder
	b.WriteString("Resolve the following prediction market question.\n\n")
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\n")
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("\nResolution criteria and context:\n")
		b.WriteString(c)
		b.WriteString("\n")
	}
	if p := strings.TrimSpace(req.PriceContext); p != "" {
		b.WriteString("\nPrice data:\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	if !req.RequestedAt.IsZero() {
		b.WriteString("\nResolution time (UTC): ")
		b.WriteString(req.RequestedAt.UTC().Format("2006-01-02 15:04 MST"))
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer YES if the event happened, NO if it did not, and INVALID if the question is ")
	b.WriteString("ambiguous or cannot be determined from public information.\n")
	b.WriteString("Respond with exactly one JSON object and nothing else:\n")
	b.WriteString(answerSchema)
	return b.String()
}
