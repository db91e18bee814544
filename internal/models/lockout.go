package models

import "time"

// AccountLockout is one lockout event for an account. Rows are kept after they
// lapse so that repeated lockouts inside the escalation window can be counted.
type AccountLockout struct {
	ID          string    `db:"id"`
	Email       string    `db:"email"`
	LockReason  string    `db:"lock_reason"`
	LockedAt    time.Time `db:"locked_at"`
	LockedUntil time.Time `db:"locked_until"`
	Attempts    int       `db:"attempts"`
	IsActive    bool      `db:"is_active"`
	Escalated   bool      `db:"escalated"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// InEffect reports whether the lockout still blocks logins at the given instant
func (l *AccountLockout) InEffect(now time.Time) bool {
	return l.IsActive && l.LockedUntil.After(now)
}

// Duration returns how long the lockout was set to last
func (l *AccountLockout) Duration() time.Duration {
	return l.LockedUntil.Sub(l.LockedAt)
}

// LockoutStatus answers the "is this account locked" query
type LockoutStatus struct {
	IsLocked    bool       `json:"is_locked"`
	Reason      string     `json:"reason,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Escalated   bool       `json:"escalated,omitempty"`
}

// LockoutPlanner computes the next lockout for an account. active is the lockout
// currently in effect (nil if none) and recentLockouts counts the lockout rows
// locked at or after the escalation cutoff, including active. Returning a value
// with an empty ID creates a new row; returning active's ID updates it in place.
// Returning nil leaves the state unchanged.
type LockoutPlanner func(active *AccountLockout, recentLockouts int) *AccountLockout
