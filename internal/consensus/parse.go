package consensus

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const defaultConfidence = 50

var (
	outcomeFieldRe = regexp.MustCompile(`(?i)\boutcome\b["']?\s*[:=]\s*["']?(yes|no|invalid)\b`)
	keywordRe      = regexp.MustCompile(`(?i)\b(yes|no|invalid)\b`)
	confidenceRe   = regexp.MustCompile(`(?i)\bconfidence\b["']?\s*[:=]?\s*["']?(\d{1,3}(?:\.\d+)?)`)
)

// ParseVote extracts an outcome and confidence from free-form model output.
// The first JSON object carrying an "outcome" field wins; otherwise keyword
// heuristics apply and only an unambiguous single keyword counts. ok is
// false when nothing usable was found.
func ParseVote(text string) (outcome domain.Outcome, confidence int, ok bool) {
	for _, obj := range jsonObjects(text) {
		var fields map[string]any
		if err := json.Unmarshal([]byte(obj), &fields); err != nil {
			continue
		}
		raw, present := fields["outcome"]
		if !present {
			continue
		}
		o, valid := outcomeFrom(raw)
		if !valid {
			return domain.OutcomeUnknown, 0, false
		}
		return o, confidenceFrom(fields["confidence"]), true
	}

	if m := outcomeFieldRe.FindStringSubmatch(text); m != nil {
		o, _ := domain.ParseOutcome(m[1])
		return o, confidenceFromText(text), true
	}

	var found domain.Outcome
	for _, m := range keywordRe.FindAllString(text, -1) {
		o, _ := domain.ParseOutcome(m)
		if found != domain.OutcomeUnknown && found != o {
			return domain.OutcomeUnknown, 0, false
		}
		found = o
	}
	if found == domain.OutcomeUnknown {
		return domain.OutcomeUnknown, 0, false
	}
	return found, confidenceFromText(text), true
}

// jsonObjects returns every balanced {...} span in text, in order of their
// opening brace. String literals are honored so braces inside them do not
// count.
func jsonObjects(text string) []string {
	var out []string
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			out = append(out, text[start:end+1])
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return out
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func outcomeFrom(v any) (domain.Outcome, bool) {
	switch t := v.(type) {
	case string:
		o, err := domain.ParseOutcome(t)
		return o, err == nil
	case float64:
		o := domain.Outcome(t)
		return o, t == math.Trunc(t) && o.Valid()
	case bool:
		if t {
			return domain.OutcomeYes, true
		}
		return domain.OutcomeNo, true
	}
	return domain.OutcomeUnknown, false
}

func confidenceFrom(v any) int {
	switch t := v.(type) {
	case float64:
		return normalizeConfidence(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err == nil {
			return normalizeConfidence(f)
		}
	}
	return defaultConfidence
}

func confidenceFromText(text string) int {
	m := confidenceRe.FindStringSubmatch(text)
	if m == nil {
		return defaultConfidence
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return defaultConfidence
	}
	return normalizeConfidence(f)
}

// normalizeConfidence maps fractions in (0,1) to percent and clamps to 0..100.
func normalizeConfidence(f float64) int {
	if f > 0 && f < 1 {
		f *= 100
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
