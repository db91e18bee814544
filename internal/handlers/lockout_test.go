package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/BradenHooton/loginguard/internal/store/memory"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockoutHandler(svc handlers.LockoutServiceInterface) *handlers.LockoutHandler {
	return handlers.NewLockoutHandler(svc, discardLogger(), pkglogger.NewAuditLogger(discardLogger()))
}

func TestGetLockout(t *testing.T) {
	until := time.Now().Add(10 * time.Minute)
	var queried string
	svc := &handlers.MockLockoutService{
		IsLockedFunc: func(_ context.Context, email string, _ time.Time) (*models.LockoutStatus, error) {
			queried = email
			return &models.LockoutStatus{IsLocked: true, Reason: "5 failed login attempts", LockedUntil: &until}, nil
		},
		HistoryFunc: func(context.Context, string) ([]models.AccountLockout, error) {
			return []models.AccountLockout{{ID: "l-1", LockReason: "5 failed login attempts", IsActive: true, Attempts: 5}}, nil
		},
	}

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/admin/lockouts/User@Example.com", nil), "email", "User@Example.com")
	w := httptest.NewRecorder()
	newLockoutHandler(svc).GetLockout(w, req)

	var resp handlers.LockoutStatusResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "user@example.com", queried)
	assert.True(t, resp.Status.IsLocked)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "l-1", resp.History[0].ID)
	assert.True(t, resp.History[0].Active)
}

func TestGetLockout_InvalidEmail(t *testing.T) {
	req := handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/admin/lockouts/nope", nil), "email", "nope")
	w := httptest.NewRecorder()
	newLockoutHandler(&handlers.MockLockoutService{}).GetLockout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestGetLockout_StoreUnavailable(t *testing.T) {
	svc := &handlers.MockLockoutService{
		IsLockedFunc: func(context.Context, string, time.Time) (*models.LockoutStatus, error) {
			return nil, fmt.Errorf("%w: timeout", models.ErrStoreUnavailable)
		},
	}

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/admin/lockouts/a@b.com", nil), "email", "a@b.com")
	w := httptest.NewRecorder()
	newLockoutHandler(svc).GetLockout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}

func TestClearLockout_UnlocksAccount(t *testing.T) {
	ledger := memory.NewLedger()
	lockouts := services.NewLockoutService(ledger, memory.NewLockouts(), services.DefaultLockoutConfig(),
		discardLogger(), pkglogger.NewAuditLogger(discardLogger()), nil)

	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := lockouts.RecordFailure(context.Background(), "user@example.com", "203.0.113.9", "curl", now)
		require.NoError(t, err)
	}
	status, err := lockouts.IsLocked(context.Background(), "user@example.com", now)
	require.NoError(t, err)
	require.True(t, status.IsLocked)

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodDelete, "/admin/lockouts/user@example.com", nil), "email", "user@example.com")
	req = handlers.WithAdminContext(req, "admin-1", "admin@example.com")
	w := httptest.NewRecorder()
	newLockoutHandler(lockouts).ClearLockout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	status, err = lockouts.IsLocked(context.Background(), "user@example.com", now)
	require.NoError(t, err)
	assert.False(t, status.IsLocked)

	n, err := ledger.CountSince(context.Background(), "user@example.com", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearLockout_StoreError(t *testing.T) {
	svc := &handlers.MockLockoutService{
		ClearFailedAttemptsFunc: func(context.Context, string) error {
			return fmt.Errorf("%w: timeout", models.ErrStoreUnavailable)
		},
	}

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodDelete, "/admin/lockouts/a@b.com", nil), "email", "a@b.com")
	w := httptest.NewRecorder()
	newLockoutHandler(svc).ClearLockout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}
