package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	pkgauth "github.com/BradenHooton/loginguard/pkg/auth"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
)

// UserRepository defines the user lookups the auth flow needs
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// dummyPasswordHash is compared against when the account does not exist so
// unknown emails cost one bcrypt comparison like known ones
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, _ := pkgauth.HashPassword("loginguard-dummy-password")
	return hash
})

// AuthService checks credentials behind the login guard
type AuthService struct {
	repo        UserRepository
	tm          *auth.TokenManager
	guard       *GuardService
	floor       *auth.FailureFloor
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService. floor may be nil.
func NewAuthService(repo UserRepository, tm *auth.TokenManager, guard *GuardService, floor *auth.FailureFloor, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		tm:          tm,
		guard:       guard,
		floor:       floor,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// LoginRequest carries the credentials and the client identity of one attempt
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse represents the response from a successful login
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *UserResponse `json:"user"`
}

// Login runs the guard, checks credentials and reports the outcome back to
// the guard. The decision is returned whenever the guard ran so the caller
// can emit rate limit headers.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, *models.LoginDecision, error) {
	start := s.now()
	email := NormalizeEmail(req.Email)
	if email == "" {
		return nil, nil, models.ErrUnauthorized
	}

	decision, err := s.guard.EvaluateLoginRequest(ctx, LoginEndpoint, ClientFingerprint(req.IPAddress, req.UserAgent), email, start)
	if err != nil {
		return nil, decision, err
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by email", slog.Any("error", err))
			return nil, decision, models.ErrInternalServer
		}
		_ = pkgauth.ComparePassword(dummyPasswordHash(), req.Password)
		return nil, decision, s.failed(ctx, req, email, "", "invalid_credentials", start)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		return nil, decision, s.failed(ctx, req, email, user.ID, "invalid_credentials", start)
	}

	if user.Status != "active" {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			UserID:        user.ID,
			IPAddress:     req.IPAddress,
			FailureReason: "account_disabled",
		})
		s.floor.Pad(ctx, start)
		return nil, decision, models.ErrUnauthorized
	}

	if err := s.guard.OnLoginSuccess(ctx, email); err != nil {
		s.logger.Warn("login succeeded but failed attempts were not cleared", slog.String("user_id", user.ID))
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, decision, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		UserID:    user.ID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return &AuthResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		User:        userModelToResponse(user),
	}, decision, nil
}

func (s *AuthService) failed(ctx context.Context, req LoginRequest, email, userID, reason string, start time.Time) error {
	s.logger.Info("login failed: invalid credentials")
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     pkglogger.EventLoginFailed,
		UserID:        userID,
		Email:         email,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: reason,
	})

	if _, err := s.guard.OnLoginFailure(ctx, email, req.IPAddress, req.UserAgent, start); err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
	}

	s.floor.Pad(ctx, start)
	return models.ErrUnauthorized
}

// EnsureUser creates the account if it does not exist. It is used to
// bootstrap the operator account at startup.
func (s *AuthService) EnsureUser(ctx context.Context, email, password, name, role string) (*models.User, bool, error) {
	email = NormalizeEmail(email)

	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, false, err
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, false, err
	}

	user, err := s.repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		Status:       "active",
	})
	if err != nil {
		return nil, false, err
	}

	s.auditLogger.LogAccountAction("user_bootstrapped", "", email, map[string]string{"role": role})
	return user, true, nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}
