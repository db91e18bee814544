package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// FailedAttemptLedger is the append-only log of failed credential checks
type FailedAttemptLedger interface {
	Record(ctx context.Context, attempt *models.FailedLoginAttempt) error
	CountSince(ctx context.Context, email string, since time.Time) (int, error)
	CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountByUserAgentSince(ctx context.Context, userAgent string, since time.Time) (int, error)
	DistinctIPsSince(ctx context.Context, since time.Time) (int, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutRepository owns AccountLockout rows
type LockoutRepository interface {
	// GetActive returns the newest row still flagged active, or nil
	GetActive(ctx context.Context, email string) (*models.AccountLockout, error)
	Deactivate(ctx context.Context, id string) error
	DeactivateAll(ctx context.Context, email string) (int64, error)
	// Engage runs plan and persists its result as one atomic step per email
	Engage(ctx context.Context, email string, now, escalationCutoff time.Time, plan models.LockoutPlanner) (lockout *models.AccountLockout, created bool, err error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
	PurgeLockedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	History(ctx context.Context, email string) ([]models.AccountLockout, error)
}

// LockoutNotifier tells the account owner a new lockout was placed
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, lockout *models.AccountLockout) error
}

// LockoutConfig holds configuration for account lockout behavior
type LockoutConfig struct {
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	BaseDuration      time.Duration
	EscalatedDuration time.Duration
	EscalationWindow  time.Duration
	// EscalateAtLockouts is the lockout count inside EscalationWindow, counting
	// the one being placed, at which EscalatedDuration applies
	EscalateAtLockouts int
	LedgerRetention    time.Duration
	FailOpen           bool
}

// DefaultLockoutConfig returns 5 failures per hour, 15 minute lockouts and
// 60 minute lockouts from the second lockout inside 24 hours
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxFailedAttempts:  5,
		AttemptWindow:      time.Hour,
		BaseDuration:       15 * time.Minute,
		EscalatedDuration:  60 * time.Minute,
		EscalationWindow:   24 * time.Hour,
		EscalateAtLockouts: 2,
		LedgerRetention:    24 * time.Hour,
		FailOpen:           true,
	}
}

const maxLockReasonLength = 512

// LockoutService derives per-account lockout state from the failed attempt ledger
type LockoutService struct {
	ledger      FailedAttemptLedger
	repo        LockoutRepository
	config      LockoutConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	notifier    LockoutNotifier
}

// NewLockoutService creates a new LockoutService. notifier may be nil.
func NewLockoutService(ledger FailedAttemptLedger, repo LockoutRepository, config LockoutConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, notifier LockoutNotifier) *LockoutService {
	return &LockoutService{
		ledger:      ledger,
		repo:        repo,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		notifier:    notifier,
	}
}

// IsLocked reports whether the account is locked at now. A lockout whose
// lockedUntil has passed is deactivated on the spot.
func (s *LockoutService) IsLocked(ctx context.Context, email string, now time.Time) (*models.LockoutStatus, error) {
	active, err := s.repo.GetActive(ctx, email)
	if err != nil {
		s.logger.Error("failed to read lockout state",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Bool("fail_open", s.config.FailOpen),
			slog.Any("error", err))
		if s.config.FailOpen {
			return &models.LockoutStatus{}, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if active == nil {
		return &models.LockoutStatus{}, nil
	}

	if !active.InEffect(now) {
		if err := s.repo.Deactivate(ctx, active.ID); err != nil {
			s.logger.Error("failed to deactivate lapsed lockout",
				slog.String("lockout_id", active.ID),
				slog.Any("error", err))
		}
		return &models.LockoutStatus{}, nil
	}

	return statusOf(active), nil
}

// RecordFailure appends a failed attempt and locks the account once the
// trailing attempt window holds MaxFailedAttempts failures
func (s *LockoutService) RecordFailure(ctx context.Context, email, ipAddress, userAgent string, now time.Time) (*models.LockoutStatus, error) {
	attempt := &models.FailedLoginAttempt{
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Timestamp: now,
	}
	if err := s.ledger.Record(ctx, attempt); err != nil {
		return s.storeFailure("failed to record login failure", email, err)
	}

	failures, err := s.ledger.CountSince(ctx, email, now.Add(-s.config.AttemptWindow))
	if err != nil {
		return s.storeFailure("failed to count login failures", email, err)
	}

	if failures < s.config.MaxFailedAttempts {
		return s.IsLocked(ctx, email, now)
	}

	cutoff := now.Add(-s.config.EscalationWindow)
	lockout, created, err := s.repo.Engage(ctx, email, now, cutoff, s.planner(email, failures, now))
	if err != nil {
		return s.storeFailure("failed to engage lockout", email, err)
	}
	if lockout == nil {
		return &models.LockoutStatus{}, nil
	}

	if created {
		s.logger.Warn("account locked",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("failed_attempts", failures),
			slog.Bool("escalated", lockout.Escalated),
			slog.Duration("lockout_duration", lockout.Duration()))
		s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
			EventType:     pkglogger.EventLockoutEngaged,
			Email:         email,
			IPAddress:     ipAddress,
			UserAgent:     userAgent,
			FailureReason: lockout.LockReason,
			Metadata: map[string]string{
				"locked_until": lockout.LockedUntil.UTC().Format(time.RFC3339),
				"escalated":    fmt.Sprintf("%t", lockout.Escalated),
			},
		})
		s.notify(ctx, lockout)

		if lockout.Escalated {
			s.purgeLedger(ctx, now)
		}
	} else {
		s.logger.Info("account lockout extended",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("failed_attempts", failures),
			slog.Time("locked_until", lockout.LockedUntil))
	}

	return statusOf(lockout), nil
}

// ClearFailedAttempts drops every ledger row for the account and deactivates
// any active lockout. Lockout history is kept for escalation. Calling it again
// is a no-op.
func (s *LockoutService) ClearFailedAttempts(ctx context.Context, email string) error {
	deleted, err := s.ledger.DeleteByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: clearing failed attempts: %v", models.ErrStoreUnavailable, err)
	}

	deactivated, err := s.repo.DeactivateAll(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: deactivating lockouts: %v", models.ErrStoreUnavailable, err)
	}

	if deleted > 0 || deactivated > 0 {
		s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
			EventType: pkglogger.EventLockoutCleared,
			Email:     email,
			Success:   true,
			Metadata: map[string]string{
				"attempts_deleted":     fmt.Sprintf("%d", deleted),
				"lockouts_deactivated": fmt.Sprintf("%d", deactivated),
			},
		})
	}

	return nil
}

// History returns every lockout recorded for the account, oldest first
func (s *LockoutService) History(ctx context.Context, email string) ([]models.AccountLockout, error) {
	history, err := s.repo.History(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return history, nil
}

// Sweep deactivates lapsed lockouts and drops history and ledger rows older
// than the retention windows. It is driven by the background cleanup manager.
func (s *LockoutService) Sweep(ctx context.Context, now time.Time) (expired, purgedLockouts, purgedAttempts int64, err error) {
	if expired, err = s.repo.ExpireLapsed(ctx, now); err != nil {
		return 0, 0, 0, fmt.Errorf("expiring lockouts: %w", err)
	}
	if purgedLockouts, err = s.repo.PurgeLockedBefore(ctx, now.Add(-s.config.EscalationWindow)); err != nil {
		return expired, 0, 0, fmt.Errorf("purging lockout history: %w", err)
	}
	if purgedAttempts, err = s.ledger.PurgeOlderThan(ctx, now.Add(-s.config.LedgerRetention)); err != nil {
		return expired, purgedLockouts, 0, fmt.Errorf("purging failed attempts: %w", err)
	}
	return expired, purgedLockouts, purgedAttempts, nil
}

// planner builds the lock/extend transition for the given failure count
func (s *LockoutService) planner(email string, failures int, now time.Time) models.LockoutPlanner {
	return func(active *models.AccountLockout, recentLockouts int) *models.AccountLockout {
		total := recentLockouts
		if active == nil {
			total++
		}

		escalated := total >= s.config.EscalateAtLockouts
		duration := s.config.BaseDuration
		if escalated {
			duration = s.config.EscalatedDuration
		}
		until := now.Add(duration)
		reason := fmt.Sprintf("%d failed login attempts within %s", failures, s.config.AttemptWindow)

		if active != nil {
			next := *active
			if until.After(next.LockedUntil) {
				next.LockedUntil = until
			}
			next.Attempts = failures
			next.Escalated = next.Escalated || escalated
			next.UpdatedAt = now
			if len(next.LockReason)+len(reason)+2 <= maxLockReasonLength {
				next.LockReason = next.LockReason + "; " + reason
			}
			return &next
		}

		return &models.AccountLockout{
			Email:       email,
			LockReason:  reason,
			LockedAt:    now,
			LockedUntil: until,
			Attempts:    failures,
			IsActive:    true,
			Escalated:   escalated,
			UpdatedAt:   now,
		}
	}
}

func (s *LockoutService) notify(ctx context.Context, lockout *models.AccountLockout) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyLockout(ctx, lockout); err != nil {
		s.logger.Error("failed to send lockout notification",
			slog.String("email", pkglogger.SanitizedEmail(lockout.Email)),
			slog.Any("error", err))
	}
}

func (s *LockoutService) purgeLedger(ctx context.Context, now time.Time) {
	purged, err := s.ledger.PurgeOlderThan(ctx, now.Add(-s.config.LedgerRetention))
	if err != nil {
		s.logger.Error("failed to purge failed attempt ledger", slog.Any("error", err))
		return
	}
	if purged > 0 {
		s.logger.Info("purged stale failed attempts", slog.Int64("rows_deleted", purged))
	}
}

func (s *LockoutService) storeFailure(msg, email string, err error) (*models.LockoutStatus, error) {
	s.logger.Error(msg,
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Bool("fail_open", s.config.FailOpen),
		slog.Any("error", err))
	if s.config.FailOpen {
		return &models.LockoutStatus{}, nil
	}
	return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func statusOf(lockout *models.AccountLockout) *models.LockoutStatus {
	until := lockout.LockedUntil
	return &models.LockoutStatus{
		IsLocked:    true,
		Reason:      lockout.LockReason,
		LockedUntil: &until,
		Escalated:   lockout.Escalated,
	}
}
