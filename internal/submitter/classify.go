package submitter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/platform/relay"
)

var fatalMarkers = []string{
	"already resolved",
	"not resolving",
	"market closed",
	"unauthorized",
	"not authorized",
	"caller is not",
	"only oracle",
	"execution reverted",
	"insufficient funds",
}

var retryableMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
	"transaction underpriced",
	"timeout",
	"connection reset",
	"too many requests",
}

// Classify decides whether a failed attempt may be retried.
func Classify(err error) domain.SubmissionErrorKind {
	var se *domain.SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrInvalidOutcome) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled) {
		return domain.SubmissionFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrSubmissionInFlight) {
		return domain.SubmissionRetryable
	}

	var he *relay.HTTPError
	if errors.As(err, &he) {
		if he.Retryable() {
			return domain.SubmissionRetryable
		}
		if he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden {
			return domain.SubmissionFatal
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return domain.SubmissionRetryable
		}
	}
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return domain.SubmissionFatal
		}
	}
	if he != nil {
		return domain.SubmissionFatal
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return domain.SubmissionRetryable
	}
	// Unknown RPC failures are treated as transient.
	return domain.SubmissionRetryable
}
