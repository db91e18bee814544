package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// TooManyLoginAttemptsMessage is returned with every rate limited login
const TooManyLoginAttemptsMessage = "Too many login attempts. Please try again in a few minutes."

// unlockTimeLayout renders the unlock instant in lockout responses
const unlockTimeLayout = "Jan 2, 2006 at 15:04 MST"

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, *models.LoginDecision, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
	ips     *pkghttp.IPExtractor
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ips *pkghttp.IPExtractor, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		ips:     ips,
		logger:  logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// MeResponse describes the caller of an authenticated request
type MeResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, decision, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: h.ips.ClientIP(r),
		UserAgent: r.UserAgent(),
	})

	if decision != nil {
		middleware.SetRateLimitHeaders(w, decision.RateLimit)
		if decision.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		}
	}

	if err != nil {
		var locked *models.AccountLockedError
		switch {
		case errors.Is(err, models.ErrRateLimitExceeded):
			pkghttp.WriteTooManyRequests(w, TooManyLoginAttemptsMessage)
		case errors.As(err, &locked):
			pkghttp.WriteAccountLocked(w, LockedMessage(locked.Reason, locked.LockedUntil))
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		case errors.Is(err, models.ErrStoreUnavailable):
			h.logger.Error("login guard unavailable", slog.Any("error", err))
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Me returns the claims of the authenticated caller
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	resp := MeResponse{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// LockedMessage renders the 403 message for a locked account
func LockedMessage(reason string, lockedUntil time.Time) string {
	return fmt.Sprintf("Account temporarily locked: %s. Try again after %s.",
		reason, lockedUntil.UTC().Format(unlockTimeLayout))
}
