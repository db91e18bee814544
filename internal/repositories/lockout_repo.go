package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutRepository stores account lockout history in PostgreSQL
type LockoutRepository struct {
	db *database.DB
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const lockoutColumns = `id, email, lock_reason, locked_at, locked_until, attempts, is_active, escalated, updated_at`

func scanLockout(row pgx.Row) (*models.AccountLockout, error) {
	var l models.AccountLockout
	err := row.Scan(&l.ID, &l.Email, &l.LockReason, &l.LockedAt, &l.LockedUntil,
		&l.Attempts, &l.IsActive, &l.Escalated, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LockoutRepository) GetActive(ctx context.Context, email string) (*models.AccountLockout, error) {
	query := `SELECT ` + lockoutColumns + ` FROM account_lockouts
		WHERE email = $1 AND is_active
		ORDER BY locked_at DESC
		LIMIT 1`

	lockout, err := scanLockout(r.db.Pool.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return lockout, err
}

func (r *LockoutRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE account_lockouts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *LockoutRepository) DeactivateAll(ctx context.Context, email string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE account_lockouts SET is_active = FALSE, updated_at = NOW() WHERE email = $1 AND is_active`, email)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Engage serializes concurrent lockout decisions for one email with a
// transaction-scoped advisory lock, then applies plan to the current state.
func (r *LockoutRepository) Engage(ctx context.Context, email string, now, escalationCutoff time.Time, plan models.LockoutPlanner) (*models.AccountLockout, bool, error) {
	var (
		result  *models.AccountLockout
		created bool
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, email); err != nil {
			return fmt.Errorf("acquire lockout lock: %w", err)
		}

		active, err := scanLockout(tx.QueryRow(ctx, `SELECT `+lockoutColumns+` FROM account_lockouts
			WHERE email = $1 AND is_active
			ORDER BY locked_at DESC
			LIMIT 1`, email))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if active != nil && !active.LockedUntil.After(now) {
			if _, err := tx.Exec(ctx,
				`UPDATE account_lockouts SET is_active = FALSE, updated_at = $2 WHERE id = $1`, active.ID, now); err != nil {
				return err
			}
			active = nil
		}

		var recent int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM account_lockouts WHERE email = $1 AND locked_at >= $2`,
			email, escalationCutoff).Scan(&recent); err != nil {
			return err
		}

		next := plan(active, recent)
		if next == nil {
			result = active
			return nil
		}

		if next.ID == "" {
			row := tx.QueryRow(ctx, `
				INSERT INTO account_lockouts (email, lock_reason, locked_at, locked_until, attempts, is_active, escalated, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING `+lockoutColumns,
				next.Email, next.LockReason, next.LockedAt, next.LockedUntil,
				next.Attempts, next.IsActive, next.Escalated, next.UpdatedAt)
			result, err = scanLockout(row)
			created = err == nil
			return database.MapPostgresError(err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE account_lockouts
			SET lock_reason = $2, locked_until = $3, attempts = $4, is_active = $5, escalated = $6, updated_at = $7
			WHERE id = $1
			RETURNING `+lockoutColumns,
			next.ID, next.LockReason, next.LockedUntil, next.Attempts, next.IsActive, next.Escalated, next.UpdatedAt)
		result, err = scanLockout(row)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

func (r *LockoutRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE account_lockouts SET is_active = FALSE, updated_at = $1 WHERE is_active AND locked_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *LockoutRepository) PurgeLockedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM account_lockouts WHERE NOT is_active AND locked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *LockoutRepository) History(ctx context.Context, email string) ([]models.AccountLockout, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+lockoutColumns+` FROM account_lockouts
		WHERE email = $1
		ORDER BY locked_at ASC`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]models.AccountLockout, 0)
	for rows.Next() {
		lockout, err := scanLockout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout: %w", err)
		}
		history = append(history, *lockout)
	}

	return history, rows.Err()
}
