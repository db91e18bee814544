package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to the request context
func WithAdminContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   "admin",
		Type:   "access",
	}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

// WithURLParam sets a chi URL parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response and returns it
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, *models.LoginDecision, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, *models.LoginDecision, error) {
	return m.LoginFunc(ctx, req)
}

// MockLockoutService implements LockoutServiceInterface for testing
type MockLockoutService struct {
	IsLockedFunc            func(ctx context.Context, email string, now time.Time) (*models.LockoutStatus, error)
	HistoryFunc             func(ctx context.Context, email string) ([]models.AccountLockout, error)
	ClearFailedAttemptsFunc func(ctx context.Context, email string) error
}

func (m *MockLockoutService) IsLocked(ctx context.Context, email string, now time.Time) (*models.LockoutStatus, error) {
	if m.IsLockedFunc != nil {
		return m.IsLockedFunc(ctx, email, now)
	}
	return &models.LockoutStatus{}, nil
}

func (m *MockLockoutService) History(ctx context.Context, email string) ([]models.AccountLockout, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, email)
	}
	return nil, nil
}

func (m *MockLockoutService) ClearFailedAttempts(ctx context.Context, email string) error {
	if m.ClearFailedAttemptsFunc != nil {
		return m.ClearFailedAttemptsFunc(ctx, email)
	}
	return nil
}

// MockRiskService implements RiskServiceInterface for testing
type MockRiskService struct {
	SuspiciousActivityFunc func(ctx context.Context, ipAddress, userAgent string, now time.Time) *models.RiskAssessment
}

func (m *MockRiskService) SuspiciousActivity(ctx context.Context, ipAddress, userAgent string, now time.Time) *models.RiskAssessment {
	return m.SuspiciousActivityFunc(ctx, ipAddress, userAgent, now)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(context.Context) error {
	return m.Err
}
