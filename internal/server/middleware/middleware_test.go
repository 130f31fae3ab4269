package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketoracle/internal/crypto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echo replies with the request body so tests can check it survived auth.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	w.Write(b)
})

func TestAuth(t *testing.T) {
	const secret = "s3cret-value"
	now := time.Unix(1_760_000_000, 0)
	signer := &crypto.RequestSigner{Secret: secret}
	h := authWithClock(signer, func() time.Time { return now }, discardLogger())(echo)

	body := `{"marketDescription":"Will it rain?"}`
	signed := signer.HeadersAt(http.MethodPost, "/api/resolve", body, now.Unix())
	stale := signer.HeadersAt(http.MethodPost, "/api/resolve", body, now.Add(-10*time.Minute).Unix())

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"shared secret", map[string]string{HeaderSecret: secret}, http.StatusOK},
		{"wrong secret", map[string]string{HeaderSecret: "nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer " + secret}, http.StatusOK},
		{"hmac", signed, http.StatusOK},
		{"hmac stale", stale, http.StatusUnauthorized},
		{"hmac tampered", map[string]string{
			crypto.HeaderTimestamp: signed[crypto.HeaderTimestamp],
			crypto.HeaderSignature: "AAAA",
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), "authentication failed")
			}
		})
	}
}

func TestAuthEmptySecretRejectsEverything(t *testing.T) {
	h := Auth("", discardLogger())(echo)

	for name, set := range map[string]func(*http.Request){
		"no credentials": func(*http.Request) {},
		"empty header":   func(r *http.Request) { r.Header.Set(HeaderSecret, "") },
		"empty bearer":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{}`))
			set(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func TestRateLimit(t *testing.T) {
	lim := &fakeLimiter{allow: false}
	h := RateLimit(lim, "resolve", 10, time.Minute, discardLogger())(echo)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"ratelimit:api:resolve:203.0.113.9"}, lim.keys)
}

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &fakeLimiter{err: errors.New("redis down")}
	h := RateLimit(lim, "resolve", 10, time.Minute, discardLogger())(echo)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://ops.example.com"})(echo)

	req := httptest.NewRequest(http.MethodOptions, "/api/resolve", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSecret)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingRequestID(t *testing.T) {
	var seen string
	h := Logging(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}
