package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureFloor pads failed credential checks to a minimum duration plus
// random jitter, so unknown accounts and wrong passwords answer in similar time.
type FailureFloor struct {
	base   time.Duration
	jitter time.Duration
}

func NewFailureFloor(base, jitter time.Duration) *FailureFloor {
	return &FailureFloor{base: base, jitter: jitter}
}

// Pad sleeps until at least base+jitter has elapsed since start. It returns
// early when ctx is done. A nil floor does nothing.
func (f *FailureFloor) Pad(ctx context.Context, start time.Time) {
	if f == nil {
		return
	}

	target := f.base + cryptoJitter(f.jitter)
	remaining := target - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// cryptoJitter returns a uniformly random duration in [0, max)
func cryptoJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}
