package models

import "time"

// RateLimitRecord is the persisted state of one fixed window counter
type RateLimitRecord struct {
	Key              string    `db:"key"`
	Count            int       `db:"count"`
	WindowStart      time.Time `db:"window_start"`
	WindowDurationMs int64     `db:"window_ms"`
}

// WindowEnd returns the instant at which the window resets
func (r *RateLimitRecord) WindowEnd() time.Time {
	return r.WindowStart.Add(time.Duration(r.WindowDurationMs) * time.Millisecond)
}

// RateLimitPolicy is the window/threshold pair applied to one endpoint
type RateLimitPolicy struct {
	Window      time.Duration
	MaxAttempts int
}

// CounterResult is what a window counter reports after a check-and-increment
type CounterResult struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitDecision is the limiter outcome plus the metadata exposed to clients
// through the X-RateLimit-* and Retry-After headers.
type RateLimitDecision struct {
	Key               string
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
	// FailedOpen is set when the counter store errored and the request was admitted anyway
	FailedOpen bool
}

// ResetAtEpochMs returns the reset instant in epoch milliseconds
func (d *RateLimitDecision) ResetAtEpochMs() int64 {
	return d.ResetAt.UnixMilli()
}
