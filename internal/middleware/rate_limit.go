package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/go-chi/httprate"
)

// FloodGuardConfig holds the coarse per-IP limit applied to the whole router
type FloodGuardConfig struct {
	RequestsPerMinute int
}

// FloodGuard rate limits every request by resolved client IP. It sits in front
// of the fingerprint limiter and keeps its counters in process memory.
func FloodGuard(config FloodGuardConfig, ips *pkghttp.IPExtractor) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	)
}

// RateLimit applies the per-route fixed window policy keyed by the client
// fingerprint. Rate limit headers are set on admitted and denied responses.
func RateLimit(limiter *services.RateLimitService, ips *pkghttp.IPExtractor, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fingerprint := services.ClientFingerprint(ips.ClientIP(r), r.UserAgent())

			decision, err := limiter.Check(r.Context(), r.URL.Path, fingerprint, time.Now())
			SetRateLimitHeaders(w, decision)
			if err != nil {
				if errors.Is(err, models.ErrRateLimitExceeded) {
					pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
					return
				}
				logger.Error("rate limiter rejected request", slog.String("path", r.URL.Path), slog.Any("error", err))
				pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders writes X-RateLimit-Limit, X-RateLimit-Remaining,
// X-RateLimit-Reset (epoch ms) and Retry-After (seconds). A nil decision
// writes nothing.
func SetRateLimitHeaders(w http.ResponseWriter, decision *models.RateLimitDecision) {
	if decision == nil {
		return
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAtEpochMs(), 10))
	h.Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
}
