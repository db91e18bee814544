package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/BradenHooton/loginguard/internal/store/memory"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newRequest(path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("User-Agent", "Mozilla/5.0")
	return req
}

type erroringCounter struct{}

func (erroringCounter) Hit(context.Context, string, time.Duration, int, time.Time) (*models.CounterResult, error) {
	return nil, errors.New("connection refused")
}

func TestRateLimit_HeadersOnAdmitAndDeny(t *testing.T) {
	cfg := services.DefaultRateLimitConfig()
	cfg.Routes["/reports"] = models.RateLimitPolicy{MaxAttempts: 2, Window: time.Minute}
	limiter := services.NewRateLimitService(memory.NewCounter(), cfg, discardLogger())
	handler := RateLimit(limiter, nil, discardLogger())(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("/reports", "198.51.100.7:5000"))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("Retry-After"))

	reset, err := strconv.ParseInt(first.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Minute).UnixMilli(), reset, 5000, "reset is epoch milliseconds")

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("/reports", "198.51.100.7:5000"))

	denied := httptest.NewRecorder()
	handler.ServeHTTP(denied, newRequest("/reports", "198.51.100.7:5000"))
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "0", denied.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(denied.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, newRequest("/reports", "198.51.100.8:5000"))
	assert.Equal(t, http.StatusOK, other.Code, "other clients have their own window")
}

func TestRateLimit_StoreDown(t *testing.T) {
	cfg := services.DefaultRateLimitConfig()

	cfg.FailOpen = true
	open := RateLimit(services.NewRateLimitService(erroringCounter{}, cfg, discardLogger()), nil, discardLogger())(okHandler())
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, newRequest("/reports", "198.51.100.7:5000"))
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.FailOpen = false
	closed := RateLimit(services.NewRateLimitService(erroringCounter{}, cfg, discardLogger()), nil, discardLogger())(okHandler())
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, newRequest("/reports", "198.51.100.7:5000"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFloodGuard_KeysByResolvedClientIP(t *testing.T) {
	ips, err := pkghttp.NewIPExtractor([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	handler := FloodGuard(FloodGuardConfig{RequestsPerMinute: 1}, ips)(okHandler())

	forwarded := func(client string) *http.Request {
		req := newRequest("/", "10.0.0.1:443")
		req.Header.Set("X-Forwarded-For", client)
		return req
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, forwarded("203.0.113.1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, forwarded("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, forwarded("203.0.113.2"))
	assert.Equal(t, http.StatusOK, rec.Code, "clients behind the same proxy are limited separately")
}

func TestSetRateLimitHeaders_NilDecision(t *testing.T) {
	rec := httptest.NewRecorder()
	SetRateLimitHeaders(rec, nil)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
