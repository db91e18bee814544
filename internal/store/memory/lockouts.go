package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

// Lockouts keeps lockout history per account in process memory. Engage runs
// with the store lock held, so the read-plan-write step is atomic per email.
type Lockouts struct {
	mu      sync.Mutex
	byEmail map[string][]*models.AccountLockout
}

// NewLockouts creates an empty lockout store
func NewLockouts() *Lockouts {
	return &Lockouts{byEmail: make(map[string][]*models.AccountLockout)}
}

// GetActive returns a copy of the newest active lockout for email, or nil
func (s *Lockouts) GetActive(_ context.Context, email string) (*models.AccountLockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active := s.activeLocked(email); active != nil {
		out := *active
		return &out, nil
	}
	return nil, nil
}

// Deactivate marks the lockout with id inactive. It returns ErrNotFound for
// an unknown id.
func (s *Lockouts) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rows := range s.byEmail {
		for _, row := range rows {
			if row.ID == id {
				row.IsActive = false
				return nil
			}
		}
	}
	return models.ErrNotFound
}

// DeactivateAll marks every active lockout for email inactive and returns
// how many changed
func (s *Lockouts) DeactivateAll(_ context.Context, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.byEmail[email] {
		if row.IsActive {
			row.IsActive = false
			n++
		}
	}
	return n, nil
}

// Engage retires a lapsed active lockout, counts history locked at or after
// escalationCutoff and stores whatever plan returns
func (s *Lockouts) Engage(_ context.Context, email string, now, escalationCutoff time.Time, plan models.LockoutPlanner) (*models.AccountLockout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeLocked(email)
	if active != nil && !active.InEffect(now) {
		active.IsActive = false
		active = nil
	}

	recent := 0
	for _, row := range s.byEmail[email] {
		if !row.LockedAt.Before(escalationCutoff) {
			recent++
		}
	}

	var current *models.AccountLockout
	if active != nil {
		snapshot := *active
		current = &snapshot
	}

	next := plan(current, recent)
	if next == nil {
		return current, false, nil
	}

	if next.ID == "" {
		next.ID = uuid.New().String()
		stored := *next
		s.byEmail[email] = append(s.byEmail[email], &stored)
		return next, true, nil
	}

	for _, row := range s.byEmail[email] {
		if row.ID == next.ID {
			*row = *next
			return next, false, nil
		}
	}
	return nil, false, models.ErrNotFound
}

// ExpireLapsed deactivates active lockouts whose lockedUntil has passed
func (s *Lockouts) ExpireLapsed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rows := range s.byEmail {
		for _, row := range rows {
			if row.IsActive && !row.LockedUntil.After(now) {
				row.IsActive = false
				n++
			}
		}
	}
	return n, nil
}

// PurgeLockedBefore drops inactive history rows locked before cutoff
func (s *Lockouts) PurgeLockedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for email, rows := range s.byEmail {
		kept := rows[:0]
		for _, row := range rows {
			if !row.IsActive && row.LockedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		if len(kept) == 0 {
			delete(s.byEmail, email)
			continue
		}
		s.byEmail[email] = kept
	}
	return n, nil
}

// History returns every lockout row for the account, oldest first
func (s *Lockouts) History(_ context.Context, email string) ([]models.AccountLockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AccountLockout, 0, len(s.byEmail[email]))
	for _, row := range s.byEmail[email] {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Lockouts) activeLocked(email string) *models.AccountLockout {
	rows := s.byEmail[email]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].IsActive {
			return rows[i]
		}
	}
	return nil
}
