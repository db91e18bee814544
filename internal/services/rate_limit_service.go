package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// WindowCounter is the per-key fixed window counter behind the rate limiter.
// Hit must perform check-and-increment atomically for a key: two concurrent
// hits at count = max-1 must not both be admitted.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error)
}

// RateLimitConfig holds configuration for the per-fingerprint rate limiter
type RateLimitConfig struct {
	Login          models.RateLimitPolicy
	Default        models.RateLimitPolicy
	Routes         map[string]models.RateLimitPolicy
	LoginEndpoints []string
	// FailOpen admits requests when the counter store is unreachable
	FailOpen bool
}

// DefaultRateLimitConfig returns 5 attempts per 5 minutes on login endpoints and
// 5 per 15 minutes everywhere else
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Login:          models.RateLimitPolicy{MaxAttempts: 5, Window: 5 * time.Minute},
		Default:        models.RateLimitPolicy{MaxAttempts: 5, Window: 15 * time.Minute},
		Routes:         map[string]models.RateLimitPolicy{},
		LoginEndpoints: []string{"/auth/login"},
		FailOpen:       true,
	}
}

// RateLimitService decides admit/deny per (endpoint, client fingerprint)
type RateLimitService struct {
	counter WindowCounter
	config  RateLimitConfig
	logger  *slog.Logger
	login   map[string]struct{}
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(counter WindowCounter, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	login := make(map[string]struct{}, len(config.LoginEndpoints))
	for _, endpoint := range config.LoginEndpoints {
		login[endpoint] = struct{}{}
	}

	return &RateLimitService{
		counter: counter,
		config:  config,
		logger:  logger,
		login:   login,
	}
}

// PolicyFor returns the window applied to an endpoint. Explicit route overrides
// win over the login policy, which wins over the default.
func (s *RateLimitService) PolicyFor(endpoint string) models.RateLimitPolicy {
	if policy, ok := s.config.Routes[endpoint]; ok {
		return policy
	}
	if _, ok := s.login[endpoint]; ok {
		return s.config.Login
	}
	return s.config.Default
}

// Check counts one request against the endpoint's window. The returned decision
// is always non-nil so callers can emit rate limit headers on both outcomes.
// A denied request returns a *models.RateLimitError.
func (s *RateLimitService) Check(ctx context.Context, endpoint, fingerprint string, now time.Time) (*models.RateLimitDecision, error) {
	policy := s.PolicyFor(endpoint)
	key := RateLimitKey(endpoint, fingerprint)

	result, err := s.counter.Hit(ctx, key, policy.Window, policy.MaxAttempts, now)
	if err != nil {
		s.logger.Error("rate limit store unavailable",
			slog.String("endpoint", endpoint),
			slog.Bool("fail_open", s.config.FailOpen),
			slog.Any("error", err))

		decision := &models.RateLimitDecision{
			Key:     key,
			Limit:   policy.MaxAttempts,
			ResetAt: now.Add(policy.Window),
		}
		decision.RetryAfterSeconds = retryAfterSeconds(decision.ResetAt, now, false)

		if s.config.FailOpen {
			decision.Allowed = true
			decision.Remaining = policy.MaxAttempts
			decision.FailedOpen = true
			return decision, nil
		}
		return decision, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	decision := &models.RateLimitDecision{
		Key:               key,
		Allowed:           result.Allowed,
		Limit:             policy.MaxAttempts,
		Remaining:         result.Remaining,
		ResetAt:           result.ResetAt,
		RetryAfterSeconds: retryAfterSeconds(result.ResetAt, now, !result.Allowed),
	}

	if !result.Allowed {
		s.logger.Warn("rate limit exceeded",
			slog.String("endpoint", endpoint),
			slog.String("fingerprint", fingerprint),
			slog.Int("limit", policy.MaxAttempts),
			slog.Int("retry_after_seconds", decision.RetryAfterSeconds))
		return decision, &models.RateLimitError{Decision: *decision}
	}

	return decision, nil
}

// RateLimitKey builds the composite counter key for an endpoint and fingerprint
func RateLimitKey(endpoint, fingerprint string) string {
	return endpoint + ":" + fingerprint
}

// ClientFingerprint identifies a rate limit subject without authentication:
// the client IP plus a truncated hash of its User-Agent
func ClientFingerprint(ipAddress, userAgent string) string {
	hash := sha256.Sum256([]byte(userAgent))
	return ipAddress + "|" + hex.EncodeToString(hash[:])[:16]
}

// retryAfterSeconds rounds up the time left in the window. Denied requests are
// always told to wait at least one second.
func retryAfterSeconds(resetAt, now time.Time, denied bool) int {
	seconds := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	if denied && seconds < 1 {
		seconds = 1
	}
	return seconds
}
