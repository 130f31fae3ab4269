package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outcome is a market resolution outcome. The numeric values match the
// market contract and the public API (1|2|3).
type Outcome uint8

const (
	OutcomeUnknown Outcome = 0
	OutcomeYes     Outcome = 1
	OutcomeNo      Outcome = 2
	OutcomeInvalid Outcome = 3
)

// Valid reports whether o is one of Yes, No or Invalid.
func (o Outcome) Valid() bool {
	return o >= OutcomeYes && o <= OutcomeInvalid
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "YES"
	case OutcomeNo:
		return "NO"
	case OutcomeInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// ParseOutcome accepts names (case-insensitive) or the numeric wire values.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "1", "TRUE":
		return OutcomeYes, nil
	case "NO", "2", "FALSE":
		return OutcomeNo, nil
	case "INVALID", "3":
		return OutcomeInvalid, nil
	}
	return OutcomeUnknown, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// MarketStatus mirrors the market contract's status enum.
type MarketStatus uint8

const (
	MarketActive MarketStatus = iota
	MarketResolving
	MarketResolved
	MarketDisputed
	MarketCancelled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "active"
	case MarketResolving:
		return "resolving"
	case MarketResolved:
		return "resolved"
	case MarketDisputed:
		return "disputed"
	case MarketCancelled:
		return "cancelled"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// CanTransition reports whether the market state machine allows moving from
// s to next. A Disputed market returns to Resolved once arbitration finalizes.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	switch s {
	case MarketActive:
		return next == MarketResolving || next == MarketCancelled
	case MarketResolving:
		return next == MarketResolved || next == MarketDisputed || next == MarketCancelled
	case MarketResolved:
		return next == MarketDisputed
	case MarketDisputed:
		return next == MarketResolved || next == MarketCancelled
	default:
		return false
	}
}

// Market is the on-chain view of a prediction market.
type Market struct {
	ID              string
	Question        string
	Description     string
	Status          MarketStatus
	ProposedOutcome Outcome
	ResolutionTime  time.Time
	DisputeDeadline time.Time
}

// DisputeWindowOpen reports whether votes may still be cast at now.
func (m Market) DisputeWindowOpen(now time.Time) bool {
	return !m.DisputeDeadline.IsZero() && now.Before(m.DisputeDeadline)
}
