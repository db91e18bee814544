package background

import (
	"context"
	"log/slog"
	"time"
)

// LockoutSweeper expires lapsed lockouts and trims old history
type LockoutSweeper interface {
	Sweep(ctx context.Context, now time.Time) (expired, purgedLockouts, purgedAttempts int64, err error)
}

// CounterPurger drops rate limit windows that have ended
type CounterPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// DefaultCleanupInterval is used when a non-positive interval is configured
const DefaultCleanupInterval = 5 * time.Minute

// CleanupManager periodically sweeps lockouts, failed attempts and rate limit windows
type CleanupManager struct {
	lockouts LockoutSweeper
	counter  CounterPurger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager. counter may be nil.
func NewCleanupManager(
	lockouts LockoutSweeper,
	counter CounterPurger,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupManager{
		lockouts: lockouts,
		counter:  counter,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	now := cm.now()

	expired, purgedLockouts, purgedAttempts, err := cm.lockouts.Sweep(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to sweep lockouts", slog.Any("error", err))
	} else if expired+purgedLockouts+purgedAttempts > 0 {
		cm.logger.Info("lockout sweep completed",
			slog.Int64("expired", expired),
			slog.Int64("lockouts_purged", purgedLockouts),
			slog.Int64("attempts_purged", purgedAttempts))
	}

	if cm.counter == nil {
		return
	}

	windows, err := cm.counter.PurgeExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to purge rate limit windows", slog.Any("error", err))
		return
	}
	if windows > 0 {
		cm.logger.Info("rate limit windows purged", slog.Int64("rows_deleted", windows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
