package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// RiskServiceInterface exposes the ledger-driven anomaly assessment
type RiskServiceInterface interface {
	SuspiciousActivity(ctx context.Context, ipAddress, userAgent string, now time.Time) *models.RiskAssessment
}

// SecurityHandler serves operator security views
type SecurityHandler struct {
	service RiskServiceInterface
	now     func() time.Time
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(service RiskServiceInterface) *SecurityHandler {
	return &SecurityHandler{service: service, now: time.Now}
}

// ActivityQuery holds the query parameters of GET /admin/security/activity
type ActivityQuery struct {
	IP        string `validate:"omitempty,ip"`
	UserAgent string `validate:"max=512"`
}

// GetActivity handles GET /admin/security/activity?ip=&user_agent=
// Reasons are included since the caller is an operator.
func (h *SecurityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	q := ActivityQuery{
		IP:        r.URL.Query().Get("ip"),
		UserAgent: r.URL.Query().Get("user_agent"),
	}
	if err := ValidateRequest(q); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if addr, err := netip.ParseAddr(q.IP); err == nil {
		q.IP = addr.Unmap().String()
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.service.SuspiciousActivity(r.Context(), q.IP, q.UserAgent, h.now()))
}
