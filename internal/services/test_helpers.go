package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

// MockWindowCounter implements WindowCounter for testing
type MockWindowCounter struct {
	HitFunc func(ctx context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error)
}

func (m *MockWindowCounter) Hit(ctx context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error) {
	return m.HitFunc(ctx, key, window, maxAttempts, now)
}

// MockCaptchaVerifier implements CaptchaVerifier for testing
type MockCaptchaVerifier struct {
	VerifyFunc func(ctx context.Context, token, remoteIP string) (*models.CaptchaResult, error)
}

func (m *MockCaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) (*models.CaptchaResult, error) {
	return m.VerifyFunc(ctx, token, remoteIP)
}

// RecordingNotifier implements LockoutNotifier and keeps every notice
type RecordingNotifier struct {
	mu       sync.Mutex
	Lockouts []models.AccountLockout
	Err      error
}

func (n *RecordingNotifier) NotifyLockout(_ context.Context, lockout *models.AccountLockout) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Lockouts = append(n.Lockouts, *lockout)
	return n.Err
}

// FailingLedger implements FailedAttemptLedger and errors on every call
type FailingLedger struct {
	Err error
}

func (l *FailingLedger) Record(context.Context, *models.FailedLoginAttempt) error { return l.Err }
func (l *FailingLedger) CountSince(context.Context, string, time.Time) (int, error) {
	return 0, l.Err
}
func (l *FailingLedger) CountByIPSince(context.Context, string, time.Time) (int, error) {
	return 0, l.Err
}
func (l *FailingLedger) CountByUserAgentSince(context.Context, string, time.Time) (int, error) {
	return 0, l.Err
}
func (l *FailingLedger) DistinctIPsSince(context.Context, time.Time) (int, error) { return 0, l.Err }
func (l *FailingLedger) DeleteByEmail(context.Context, string) (int64, error)     { return 0, l.Err }
func (l *FailingLedger) PurgeOlderThan(context.Context, time.Time) (int64, error) { return 0, l.Err }

// NewTestUser creates a test user with a bcrypt hash of password
func NewTestUser(id, email, passwordHash string) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Name:         "Test User",
		Role:         "user",
		Status:       "active",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}
