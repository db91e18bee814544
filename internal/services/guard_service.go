package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// LoginEndpoint is the route the stricter login window applies to
const LoginEndpoint = "/auth/login"

// GuardService is the entry point the route layer calls around a credential check:
// EvaluateLoginRequest before it, OnLoginFailure or OnLoginSuccess after it.
type GuardService struct {
	rateLimiter *RateLimitService
	lockouts    *LockoutService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewGuardService creates a new GuardService
func NewGuardService(rateLimiter *RateLimitService, lockouts *LockoutService, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *GuardService {
	return &GuardService{
		rateLimiter: rateLimiter,
		lockouts:    lockouts,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// EvaluateLoginRequest runs the rate limiter and then the lockout check. The
// decision is always returned, with RateLimit populated once the limiter ran.
// A rate limited request returns *models.RateLimitError and a locked account
// returns *models.AccountLockedError.
func (g *GuardService) EvaluateLoginRequest(ctx context.Context, endpoint, fingerprint, email string, now time.Time) (*models.LoginDecision, error) {
	email = NormalizeEmail(email)

	rl, err := g.rateLimiter.Check(ctx, endpoint, fingerprint, now)
	decision := &models.LoginDecision{RateLimit: rl}
	if err != nil {
		decision.RetryAfterSeconds = rl.RetryAfterSeconds
		g.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
			EventType:     pkglogger.EventRateLimited,
			Email:         email,
			FailureReason: err.Error(),
		})
		return decision, err
	}

	status, err := g.lockouts.IsLocked(ctx, email, now)
	if err != nil {
		return decision, err
	}

	if status.IsLocked {
		decision.LockReason = status.Reason
		decision.LockedUntil = status.LockedUntil
		decision.RetryAfterSeconds = int(math.Ceil(status.LockedUntil.Sub(now).Seconds()))

		g.logger.Info("login rejected: account locked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Time("locked_until", *status.LockedUntil))

		return decision, &models.AccountLockedError{
			Reason:      status.Reason,
			LockedUntil: *status.LockedUntil,
		}
	}

	decision.Admit = true
	return decision, nil
}

// OnLoginFailure records a failed credential check and re-evaluates the lockout
func (g *GuardService) OnLoginFailure(ctx context.Context, email, ipAddress, userAgent string, now time.Time) (*models.LockoutStatus, error) {
	return g.lockouts.RecordFailure(ctx, NormalizeEmail(email), ipAddress, userAgent, now)
}

// OnLoginSuccess clears the account's failed attempts and any active lockout
func (g *GuardService) OnLoginSuccess(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := g.lockouts.ClearFailedAttempts(ctx, email); err != nil {
		g.logger.Error("failed to clear failed attempts",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return err
	}
	return nil
}

// LockoutStatus exposes the lockout query for operator tooling
func (g *GuardService) LockoutStatus(ctx context.Context, email string, now time.Time) (*models.LockoutStatus, error) {
	return g.lockouts.IsLocked(ctx, NormalizeEmail(email), now)
}

// NormalizeEmail lowercases and trims an address so ledger keys are stable
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
