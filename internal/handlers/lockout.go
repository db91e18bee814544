package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// LockoutServiceInterface is the operator view of account lockouts
type LockoutServiceInterface interface {
	IsLocked(ctx context.Context, email string, now time.Time) (*models.LockoutStatus, error)
	History(ctx context.Context, email string) ([]models.AccountLockout, error)
	ClearFailedAttempts(ctx context.Context, email string) error
}

// LockoutHandler serves the admin lockout endpoints
type LockoutHandler struct {
	service     LockoutServiceInterface
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewLockoutHandler creates a new LockoutHandler
func NewLockoutHandler(service LockoutServiceInterface, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LockoutHandler {
	return &LockoutHandler{
		service:     service,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// LockoutHistoryEntry is one past or current lockout of an account
type LockoutHistoryEntry struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	LockedAt    time.Time `json:"locked_at"`
	LockedUntil time.Time `json:"locked_until"`
	Attempts    int       `json:"attempts"`
	Active      bool      `json:"active"`
	Escalated   bool      `json:"escalated"`
}

// LockoutStatusResponse is returned by GET /admin/lockouts/{email}
type LockoutStatusResponse struct {
	Email   string                `json:"email"`
	Status  *models.LockoutStatus `json:"status"`
	History []LockoutHistoryEntry `json:"history"`
}

// GetLockout handles GET /admin/lockouts/{email}
func (h *LockoutHandler) GetLockout(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	status, err := h.service.IsLocked(r.Context(), email, h.now())
	if err != nil {
		h.writeStoreError(w, "failed to read lockout status", err)
		return
	}

	rows, err := h.service.History(r.Context(), email)
	if err != nil {
		h.writeStoreError(w, "failed to read lockout history", err)
		return
	}

	history := make([]LockoutHistoryEntry, 0, len(rows))
	for _, row := range rows {
		history = append(history, LockoutHistoryEntry{
			ID:          row.ID,
			Reason:      row.LockReason,
			LockedAt:    row.LockedAt,
			LockedUntil: row.LockedUntil,
			Attempts:    row.Attempts,
			Active:      row.IsActive,
			Escalated:   row.Escalated,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockoutStatusResponse{
		Email:   email,
		Status:  status,
		History: history,
	})
}

// ClearLockout handles DELETE /admin/lockouts/{email}
func (h *LockoutHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	email, ok := emailParam(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearFailedAttempts(r.Context(), email); err != nil {
		h.writeStoreError(w, "failed to clear lockout", err)
		return
	}

	actorID := ""
	if claims := auth.GetUserFromContext(r); claims != nil {
		actorID = claims.UserID
	}
	h.auditLogger.LogAccountAction("lockout_cleared_by_operator", actorID, email, nil)

	w.WriteHeader(http.StatusNoContent)
}

func (h *LockoutHandler) writeStoreError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	if errors.Is(err, models.ErrStoreUnavailable) {
		pkghttp.WriteServiceUnavailable(w, "Lockout store unavailable")
		return
	}
	pkghttp.WriteInternalError(w, "Internal server error")
}

// emailParam reads and validates the {email} URL parameter
func emailParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := services.NormalizeEmail(chi.URLParam(r, "email"))
	if err := validate.Var(email, "required,email"); err != nil {
		pkghttp.WriteBadRequest(w, "validation failed: email: must be a valid email address")
		return "", false
	}
	return email, true
}
