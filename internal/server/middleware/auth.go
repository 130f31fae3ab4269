package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/marketoracle/internal/crypto"
	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// HeaderSecret carries the shared secret in plain form.
const HeaderSecret = "X-Oracle-Secret"

// maxSignedBody caps the body read for signature verification.
const maxSignedBody = 1 << 20

// Auth returns middleware that admits a request carrying the shared secret
// in X-Oracle-Secret or as a Bearer token, or an HMAC signature made with
// it. Rejected requests get 401 before the handler runs. With an empty
// secret nothing can authenticate, so every request is rejected.
func Auth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	signer := &crypto.RequestSigner{Secret: secret, MaxSkew: crypto.DefaultMaxSkew}
	return authWithClock(signer, time.Now, logger)
}

func authWithClock(signer *crypto.RequestSigner, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if signer.Secret == "" {
				logger.ErrorContext(r.Context(), "auth rejected, no shared secret configured",
					slog.String("path", r.URL.Path))
				writeUnauthorized(w, "server has no shared secret configured")
				return
			}

			if err := authenticate(r, signer, now()); err != nil {
				logger.WarnContext(r.Context(), "auth rejected",
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Reason),
				)
				writeUnauthorized(w, err.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, signer *crypto.RequestSigner, now time.Time) *domain.AuthenticationError {
	if token := extractToken(r); token != "" {
		if crypto.SecretEqual(token, signer.Secret) {
			return nil
		}
		return &domain.AuthenticationError{Reason: "invalid shared secret"}
	}

	ts := r.Header.Get(crypto.HeaderTimestamp)
	sig := r.Header.Get(crypto.HeaderSignature)
	if ts == "" || sig == "" {
		return &domain.AuthenticationError{Reason: "missing credentials"}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
	if err != nil {
		return &domain.AuthenticationError{Reason: "unreadable body"}
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := signer.Verify(r.Method, r.URL.Path, string(body), ts, sig, now); err != nil {
		return &domain.AuthenticationError{Reason: err.Error()}
	}
	return nil
}

// extractToken looks for the secret in X-Oracle-Secret or in the
// Authorization header (Bearer scheme).
func extractToken(r *http.Request) string {
	if key := r.Header.Get(HeaderSecret); key != "" {
		return strings.TrimSpace(key)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, "authentication failed: "+msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
