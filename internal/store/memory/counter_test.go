package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_FixedWindow(t *testing.T) {
	c := NewCounter()
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	window := 15 * time.Minute

	for i := 1; i <= 5; i++ {
		res, err := c.Hit(ctx, "k", window, 5, start.Add(time.Duration(i-1)*time.Minute))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, start.Add(window), res.ResetAt)
	}

	res, err := c.Hit(ctx, "k", window, 5, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 5, res.Count)

	res, err = c.Hit(ctx, "k", window, 5, start.Add(window))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, start.Add(2*window), res.ResetAt)
}

func TestCounter_KeysAreIndependent(t *testing.T) {
	c := NewCounter()
	now := time.Now()

	_, _ = c.Hit(context.Background(), "a", time.Minute, 1, now)
	res, err := c.Hit(context.Background(), "b", time.Minute, 1, now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCounter_ConcurrentHitsNeverOverAdmit(t *testing.T) {
	c := NewCounter()
	now := time.Now()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := c.Hit(context.Background(), "burst", time.Minute, 5, now)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
}

func TestCounter_PurgeExpired(t *testing.T) {
	c := NewCounter()
	now := time.Now()

	_, _ = c.Hit(context.Background(), "short", time.Second, 5, now)
	_, _ = c.Hit(context.Background(), "long", time.Hour, 5, now)

	purged, err := c.PurgeExpired(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 1, c.Len())
}

func TestCounter_ShardIndexSpreadsKeys(t *testing.T) {
	used := make(map[uint32]struct{})
	for i := 0; i < 1000; i++ {
		idx := shardIndex(fmt.Sprintf("/auth/login:198.51.100.%d|abcdef0123456789", i))
		require.Less(t, idx, uint32(counterShards))
		used[idx] = struct{}{}
	}
	assert.Greater(t, len(used), counterShards/2, "keys spread over most shards")
	assert.Equal(t, shardIndex("same-key"), shardIndex("same-key"))
}
