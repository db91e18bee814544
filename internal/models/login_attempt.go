package models

import "time"

// FailedLoginAttempt is one immutable ledger entry for a failed credential check
type FailedLoginAttempt struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	Timestamp time.Time `db:"attempted_at"`
}
