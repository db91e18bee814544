package models

import "time"

// LoginDecision is the verdict handed to the route layer before credentials are checked
type LoginDecision struct {
	Admit             bool
	RateLimit         *RateLimitDecision
	RetryAfterSeconds int
	LockReason        string
	LockedUntil       *time.Time
}
