package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Defense layer outcomes
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrStoreUnavailable  = errors.New("security store unavailable")
	ErrRiskTooHigh       = errors.New("verification failed")
)

// RateLimitError is returned when a rate-limit window is exhausted.
// It unwraps to ErrRateLimitExceeded.
type RateLimitError struct {
	Decision RateLimitDecision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %ds", e.Decision.Key, e.Decision.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// AccountLockedError is returned while an account lockout is active.
// It unwraps to ErrAccountLocked.
type AccountLockedError struct {
	Reason      string
	LockedUntil time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s: %s", e.LockedUntil.UTC().Format(time.RFC3339), e.Reason)
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}
