package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

// Ledger keeps failed login attempts in process memory
type Ledger struct {
	mu       sync.RWMutex
	attempts []models.FailedLoginAttempt
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		attempts: make([]models.FailedLoginAttempt, 0, 64),
	}
}

// Record appends a failed attempt, assigning an ID when it has none
func (l *Ledger) Record(_ context.Context, attempt *models.FailedLoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, *attempt)
	return nil
}

// CountSince counts failures for email at or after since
func (l *Ledger) CountSince(_ context.Context, email string, since time.Time) (int, error) {
	return l.count(since, func(a *models.FailedLoginAttempt) bool { return a.Email == email }), nil
}

// CountByIPSince counts failures from ipAddress at or after since
func (l *Ledger) CountByIPSince(_ context.Context, ipAddress string, since time.Time) (int, error) {
	return l.count(since, func(a *models.FailedLoginAttempt) bool { return a.IPAddress == ipAddress }), nil
}

// CountByUserAgentSince counts failures sent with exactly userAgent at or after since
func (l *Ledger) CountByUserAgentSince(_ context.Context, userAgent string, since time.Time) (int, error) {
	return l.count(since, func(a *models.FailedLoginAttempt) bool { return a.UserAgent == userAgent }), nil
}

// DistinctIPsSince counts the addresses with at least one failure at or after since
func (l *Ledger) DistinctIPsSince(_ context.Context, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{})
	for i := range l.attempts {
		if !l.attempts[i].Timestamp.Before(since) {
			seen[l.attempts[i].IPAddress] = struct{}{}
		}
	}
	return len(seen), nil
}

// DeleteByEmail removes every failure recorded for email
func (l *Ledger) DeleteByEmail(_ context.Context, email string) (int64, error) {
	return l.remove(func(a *models.FailedLoginAttempt) bool { return a.Email == email }), nil
}

// PurgeOlderThan removes failures recorded before cutoff
func (l *Ledger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return l.remove(func(a *models.FailedLoginAttempt) bool { return a.Timestamp.Before(cutoff) }), nil
}

func (l *Ledger) count(since time.Time, match func(*models.FailedLoginAttempt) bool) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for i := range l.attempts {
		if !l.attempts[i].Timestamp.Before(since) && match(&l.attempts[i]) {
			n++
		}
	}
	return n
}

func (l *Ledger) remove(match func(*models.FailedLoginAttempt) bool) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	var removed int64
	for i := range l.attempts {
		if match(&l.attempts[i]) {
			removed++
			continue
		}
		kept = append(kept, l.attempts[i])
	}
	l.attempts = kept
	return removed
}
