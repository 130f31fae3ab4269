package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/genai"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// StatusError is a non-2xx response from a provider HTTP API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, body)
}

// Classify decides whether err is worth retrying on the same model.
func Classify(err error) domain.ProviderErrorKind {
	if err == nil {
		return domain.ProviderPermanent
	}
	if errors.Is(err, domain.ErrMalformedResponse) || errors.Is(err, context.Canceled) {
		return domain.ProviderPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.ProviderTransient
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode)
	}
	if code, ok := genaiStatus(err); ok {
		return classifyStatus(code)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return domain.ProviderTransient
	}
	return domain.ProviderPermanent
}

// genaiStatus finds a genai.APIError in the chain, which the SDK may return
// by value or by pointer.
func genaiStatus(err error) (int, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code, true
		case *genai.APIError:
			return v.Code, true
		}
	}
	return 0, false
}

func classifyStatus(code int) domain.ProviderErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return domain.ProviderTransient
	case code >= 500:
		return domain.ProviderTransient
	default:
		return domain.ProviderPermanent
	}
}
