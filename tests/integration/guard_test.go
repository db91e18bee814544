//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = SetupTestDatabase(ctx)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func setup(t *testing.T) Repositories {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	return InitializeRepositories(testDB.DB)
}

func newLockoutService(repos Repositories) *services.LockoutService {
	return services.NewLockoutService(repos.Ledger, repos.Lockouts, services.DefaultLockoutConfig(),
		discardLogger(), pkglogger.NewAuditLogger(discardLogger()), nil)
}

func TestUsers_CreateAndLookup(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	email, password := TestUser("users")

	created, err := SeedUser(ctx, repos.Users, email, password, "user")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	found, err := repos.Users.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "active", found.Status)

	_, err = SeedUser(ctx, repos.Users, email, password, "user")
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = repos.Users.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedger_CountsAndPurges(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	base, at := Clock()

	record := func(email, ip, ua string, ts time.Time) {
		require.NoError(t, repos.Ledger.Record(ctx, &models.FailedLoginAttempt{
			Email: email, IPAddress: ip, UserAgent: ua, Timestamp: ts,
		}))
	}
	record("a@example.com", "198.51.100.1", "curl", at(-2*time.Hour))
	record("a@example.com", "198.51.100.1", "curl", at(-10*time.Minute))
	record("a@example.com", "198.51.100.2", "curl", at(-5*time.Minute))
	record("b@example.com", "198.51.100.3", "firefox", at(-1*time.Minute))

	since := base.Add(-time.Hour)

	n, err := repos.Ledger.CountSince(ctx, "a@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repos.Ledger.CountByIPSince(ctx, "198.51.100.1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repos.Ledger.CountByUserAgentSince(ctx, "curl", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repos.Ledger.DistinctIPsSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	purged, err := repos.Ledger.PurgeOlderThan(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	deleted, err := repos.Ledger.DeleteByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repos.Ledger.DeleteByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestLockouts_ThresholdAndEscalation(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	svc := newLockoutService(repos)
	email := "victim@example.com"
	base, at := Clock()

	var status *models.LockoutStatus
	var err error
	for i := 0; i < 5; i++ {
		status, err = svc.RecordFailure(ctx, email, "198.51.100.9", "curl", at(time.Duration(i)*2*time.Minute))
		require.NoError(t, err)
	}
	require.True(t, status.IsLocked)
	assert.WithinDuration(t, base.Add(8*time.Minute+15*time.Minute), *status.LockedUntil, time.Second)
	assert.False(t, status.Escalated)

	// second lockout inside 24h escalates
	second := base.Add(2 * time.Hour)
	for i := 0; i < 5; i++ {
		status, err = svc.RecordFailure(ctx, email, "198.51.100.9", "curl", second.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	require.True(t, status.IsLocked)
	assert.True(t, status.Escalated)
	assert.WithinDuration(t, second.Add(4*time.Minute+time.Hour), *status.LockedUntil, time.Second)

	history, err := svc.History(ctx, email)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].IsActive, "the lapsed lockout was deactivated")
	assert.True(t, history[1].IsActive)

	require.NoError(t, svc.ClearFailedAttempts(ctx, email))
	status, err = svc.IsLocked(ctx, email, second.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
}

func TestLockouts_ConcurrentFailuresCreateOneLockout(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	svc := newLockoutService(repos)
	email := "burst@example.com"
	_, at := Clock()

	for i := 0; i < 4; i++ {
		_, err := svc.RecordFailure(ctx, email, "198.51.100.9", "curl", at(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordFailure(ctx, email, "198.51.100.9", "curl", at(10*time.Second))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := svc.History(ctx, email)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsActive)
}

func TestLockouts_SweepExpiresAndPurges(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	svc := newLockoutService(repos)
	email := "sweep@example.com"
	_, at := Clock()

	for i := 0; i < 5; i++ {
		_, err := svc.RecordFailure(ctx, email, "198.51.100.9", "curl", at(-48*time.Hour+time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	expired, purgedLockouts, purgedAttempts, err := svc.Sweep(ctx, at(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, int64(1), purgedLockouts)
	assert.Equal(t, int64(5), purgedAttempts)
}

func TestCounter_FixedWindow(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	_, at := Clock()
	key := "/auth/login:198.51.100.9|abc"

	for i := 1; i <= 5; i++ {
		res, err := repos.Counter.Hit(ctx, key, 5*time.Minute, 5, at(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res, err := repos.Counter.Hit(ctx, key, 5*time.Minute, 5, at(10*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Count, "denied hits do not increment")

	res, err = repos.Counter.Hit(ctx, key, 5*time.Minute, 5, at(5*time.Minute+time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)

	purged, err := repos.Counter.PurgeExpired(ctx, at(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestCounter_ConcurrentHitsNeverOverAdmit(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	_, at := Clock()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repos.Counter.Hit(ctx, "burst", time.Minute, 5, at(0))
			if !assert.NoError(t, err) {
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
}

func TestGuard_OverPostgres(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	email, password := TestUser("guard")
	_, err := SeedUser(ctx, repos.Users, email, password, "user")
	require.NoError(t, err)

	rl := services.DefaultRateLimitConfig()
	rl.Login.MaxAttempts = 100
	limiter := services.NewRateLimitService(repos.Counter, rl, discardLogger())
	guard := services.NewGuardService(limiter, newLockoutService(repos), discardLogger(), pkglogger.NewAuditLogger(discardLogger()))
	authService := services.NewAuthService(repos.Users, nil, guard, nil, discardLogger(), pkglogger.NewAuditLogger(discardLogger()))

	for i := 0; i < 5; i++ {
		_, _, err := authService.Login(ctx, services.LoginRequest{Email: email, Password: "wrong", IPAddress: "198.51.100.9", UserAgent: "curl"})
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	_, decision, err := authService.Login(ctx, services.LoginRequest{Email: email, Password: password, IPAddress: "198.51.100.9", UserAgent: "curl"})
	var locked *models.AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.False(t, decision.Admit)
	assert.Positive(t, decision.RetryAfterSeconds)
}
