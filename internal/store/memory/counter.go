package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

const counterShards = 256

type counterShard struct {
	mu      sync.Mutex
	windows map[string]*models.RateLimitRecord
}

func newCounterShard() *counterShard {
	return &counterShard{windows: make(map[string]*models.RateLimitRecord, 64)}
}

// Counter is a process-local fixed window counter. Keys are spread over
// shards and each check-and-increment runs under its shard's lock.
type Counter struct {
	shards [counterShards]*counterShard
}

// NewCounter creates an empty counter with all shards allocated
func NewCounter() *Counter {
	c := &Counter{}
	for i := range c.shards {
		c.shards[i] = newCounterShard()
	}
	return c
}

// shardIndex maps key to 0..counterShards-1 without allocating
func shardIndex(key string) uint32 {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return h % counterShards
}

func (c *Counter) shard(key string) *counterShard {
	return c.shards[shardIndex(key)]
}

// Hit counts one request against key. A denied hit leaves the count unchanged.
func (c *Counter) Hit(_ context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.windows[key]
	if !ok || !now.Before(rec.WindowEnd()) {
		rec = &models.RateLimitRecord{
			Key:              key,
			Count:            1,
			WindowStart:      now,
			WindowDurationMs: window.Milliseconds(),
		}
		s.windows[key] = rec
		return &models.CounterResult{
			Allowed:   true,
			Count:     1,
			Remaining: max(maxAttempts-1, 0),
			ResetAt:   rec.WindowEnd(),
		}, nil
	}

	if rec.Count < maxAttempts {
		rec.Count++
		return &models.CounterResult{
			Allowed:   true,
			Count:     rec.Count,
			Remaining: maxAttempts - rec.Count,
			ResetAt:   rec.WindowEnd(),
		}, nil
	}

	return &models.CounterResult{
		Allowed:   false,
		Count:     rec.Count,
		Remaining: 0,
		ResetAt:   rec.WindowEnd(),
	}, nil
}

// PurgeExpired drops windows that ended before now
func (c *Counter) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var purged int64
	for _, s := range c.shards {
		s.mu.Lock()
		for key, rec := range s.windows {
			if !now.Before(rec.WindowEnd()) {
				delete(s.windows, key)
				purged++
			}
		}
		s.mu.Unlock()
	}
	return purged, nil
}

// Len returns the number of live windows
func (c *Counter) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}
