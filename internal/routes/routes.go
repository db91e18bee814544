package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies carries what the route table needs
type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	LockoutHandler  *handlers.LockoutHandler
	SecurityHandler *handlers.SecurityHandler
	HealthHandler   *handlers.HealthHandler
	TokenManager    *auth.TokenManager
	RateLimiter     *services.RateLimitService
	// Risk gates the login route when set
	Risk   *services.RiskService
	IPs    *pkghttp.IPExtractor
	Logger *slog.Logger
}

// RegisterRoutes registers all application routes. The login route is limited
// by the login guard itself, every other route by the RateLimit middleware.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.HealthHandler.Health)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		if deps.Risk != nil {
			r.Use(middleware.RequireHuman(deps.Risk, deps.IPs))
		}
		r.Post(services.LoginEndpoint, deps.AuthHandler.Login)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.RateLimiter, deps.IPs, deps.Logger))
		r.Use(auth.AuthMiddleware(deps.TokenManager))

		r.Get("/auth/me", deps.AuthHandler.Me)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Get("/admin/lockouts/{email}", deps.LockoutHandler.GetLockout)
			r.Delete("/admin/lockouts/{email}", deps.LockoutHandler.ClearLockout)
			r.Get("/admin/security/activity", deps.SecurityHandler.GetActivity)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Not found")
	})
}
