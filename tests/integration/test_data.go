//go:build integration

package integration

import (
	"fmt"
	"time"
)

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, password string) {
	email = fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
	password = "TestPassword123!"
	return
}

// Clock returns a fixed base instant and a function yielding base+offset
func Clock() (time.Time, func(time.Duration) time.Time) {
	base := time.Now().UTC().Truncate(time.Second)
	return base, func(d time.Duration) time.Time { return base.Add(d) }
}
