package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisRateLimitPrefix = "loginguard:rl:"

// The script runs atomically on the server. A denied hit writes nothing.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'count', 'start')
local count = tonumber(state[1])
local start = tonumber(state[2])

if count == nil or start == nil or now >= start + window then
	redis.call('HSET', KEYS[1], 'count', 1, 'start', now)
	redis.call('PEXPIRE', KEYS[1], window)
	return {1, 1, now + window}
end

if count < max then
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
	return {1, count, start + window}
end

return {0, count, start + window}
`)

// RedisRateLimitRepository is a fixed window counter shared across instances
// through Redis. Windows expire on their own through PEXPIRE.
type RedisRateLimitRepository struct {
	client redis.UniversalClient
}

func NewRedisRateLimitRepository(client redis.UniversalClient) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client}
}

func (r *RedisRateLimitRepository) Hit(ctx context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error) {
	res, err := hitScript.Run(ctx, r.client, []string{redisRateLimitPrefix + key},
		now.UnixMilli(), window.Milliseconds(), maxAttempts).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply of length %d", len(res))
	}

	result := &models.CounterResult{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		ResetAt: time.UnixMilli(res[2]),
	}
	if result.Allowed {
		result.Remaining = max(maxAttempts-result.Count, 0)
	}
	return result, nil
}

// PurgeExpired is a no-op. Redis evicts windows by TTL.
func (r *RedisRateLimitRepository) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// HealthCheck reports whether Redis is reachable
func (r *RedisRateLimitRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
