package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository is the failed login ledger stored in PostgreSQL
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

// Record appends a failed attempt to the ledger
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.FailedLoginAttempt) error {
	query := `
		INSERT INTO failed_login_attempts (email, ip_address, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	return r.pool.QueryRow(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Timestamp,
	).Scan(&attempt.ID)
}

// CountSince returns the number of failed attempts for an email at or after since
func (r *LoginAttemptRepository) CountSince(ctx context.Context, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM failed_login_attempts
		WHERE email = $1 AND attempted_at >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, email, since).Scan(&count)
	return count, err
}

// CountByIPSince returns the number of failed attempts from an IP address
func (r *LoginAttemptRepository) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM failed_login_attempts
		WHERE ip_address = $1 AND attempted_at >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// CountByUserAgentSince returns the number of failed attempts sharing a user agent
func (r *LoginAttemptRepository) CountByUserAgentSince(ctx context.Context, userAgent string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM failed_login_attempts
		WHERE user_agent = $1 AND attempted_at >= $2
	`

	var count int
	err := r.pool.QueryRow(ctx, query, userAgent, since).Scan(&count)
	return count, err
}

// DistinctIPsSince returns how many addresses produced failures
func (r *LoginAttemptRepository) DistinctIPsSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT ip_address) FROM failed_login_attempts
		WHERE attempted_at >= $1
	`

	var count int
	err := r.pool.QueryRow(ctx, query, since).Scan(&count)
	return count, err
}

// DeleteByEmail clears every ledger row for an account
func (r *LoginAttemptRepository) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE email = $1`, email)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan removes ledger rows recorded before cutoff
func (r *LoginAttemptRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
