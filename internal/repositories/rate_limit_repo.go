package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository is a fixed window counter stored in PostgreSQL. Every
// hit is one upsert, so concurrent hits on a key serialize on the row lock.
type RateLimitRepository struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{pool: db.Pool}
}

// All SET expressions read the pre-update row, so the window test is
// evaluated once against the old state.
const hitQuery = `
	INSERT INTO rate_limits AS r (key, count, window_start_ms, window_ms, last_allowed)
	VALUES ($1, 1, $2, $3, TRUE)
	ON CONFLICT (key) DO UPDATE SET
		count = CASE
			WHEN $2 >= r.window_start_ms + r.window_ms THEN 1
			WHEN r.count < $4 THEN r.count + 1
			ELSE r.count
		END,
		window_start_ms = CASE WHEN $2 >= r.window_start_ms + r.window_ms THEN $2 ELSE r.window_start_ms END,
		window_ms = CASE WHEN $2 >= r.window_start_ms + r.window_ms THEN $3 ELSE r.window_ms END,
		last_allowed = ($2 >= r.window_start_ms + r.window_ms) OR r.count < $4
	RETURNING count, window_start_ms, window_ms, last_allowed
`

func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration, maxAttempts int, now time.Time) (*models.CounterResult, error) {
	var (
		rec     models.RateLimitRecord
		startMs int64
		allowed bool
	)

	err := r.pool.QueryRow(ctx, hitQuery, key, now.UnixMilli(), window.Milliseconds(), maxAttempts).
		Scan(&rec.Count, &startMs, &rec.WindowDurationMs, &allowed)
	if err != nil {
		return nil, fmt.Errorf("rate limit upsert: %w", database.MapPostgresError(err))
	}
	rec.Key = key
	rec.WindowStart = time.UnixMilli(startMs)

	result := &models.CounterResult{
		Allowed: allowed,
		Count:   rec.Count,
		ResetAt: rec.WindowEnd(),
	}
	if allowed {
		result.Remaining = max(maxAttempts-rec.Count, 0)
	}
	return result, nil
}

// PurgeExpired deletes windows that ended before now
func (r *RateLimitRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM rate_limits WHERE window_start_ms + window_ms <= $1`

	tag, err := r.pool.Exec(ctx, query, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
