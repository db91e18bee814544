package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/background"
	"github.com/BradenHooton/loginguard/internal/captcha"
	"github.com/BradenHooton/loginguard/internal/config"
	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/repositories"
	"github.com/BradenHooton/loginguard/internal/routes"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/BradenHooton/loginguard/internal/store/memory"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("guard_store", cfg.Auth.GuardStore),
		slog.String("rate_limit_store", cfg.RateLimit.Store))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		cancel()
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		cancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	cancel()

	auditLogger := pkglogger.NewAuditLogger(logger)

	ips, err := pkghttp.NewIPExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Ledger and lockout store
	var (
		ledger   services.FailedAttemptLedger
		lockouts services.LockoutRepository
	)
	switch cfg.Auth.GuardStore {
	case config.StoreMemory:
		ledger = memory.NewLedger()
		lockouts = memory.NewLockouts()
	default:
		ledger = repositories.NewLoginAttemptRepository(db)
		lockouts = repositories.NewLockoutRepository(db)
	}

	// Rate limit counter
	healthChecks := map[string]handlers.HealthChecker{"database": db}
	var counter interface {
		services.WindowCounter
		background.CounterPurger
	}
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		redisCounter := repositories.NewRedisRateLimitRepository(client)
		healthChecks["redis"] = redisCounter
		counter = redisCounter
	case config.StorePostgres:
		counter = repositories.NewRateLimitRepository(db)
	default:
		counter = memory.NewCounter()
	}

	rateLimitService := services.NewRateLimitService(counter, rateLimitConfig(cfg), logger)

	userRepo := repositories.NewUserRepository(db)
	notifier := services.NewOwnerOnlyNotifier(userRepo, lockoutNotifier(cfg, logger), logger)
	lockoutConfig := services.LockoutConfig{
		MaxFailedAttempts:  cfg.Lockout.MaxFailedAttempts,
		AttemptWindow:      cfg.Lockout.AttemptWindow,
		BaseDuration:       cfg.Lockout.BaseDuration,
		EscalatedDuration:  cfg.Lockout.EscalatedDuration,
		EscalationWindow:   cfg.Lockout.EscalationWindow,
		EscalateAtLockouts: cfg.Lockout.EscalateAtLockouts,
		LedgerRetention:    cfg.Auth.LedgerRetention,
		FailOpen:           cfg.Lockout.FailOpen,
	}
	lockoutService := services.NewLockoutService(ledger, lockouts, lockoutConfig, logger, auditLogger, notifier)

	var verifier services.CaptchaVerifier
	if cfg.Captcha.Enabled {
		verifier = captcha.NewClient(captcha.Config{
			Secret:            cfg.Captcha.Secret,
			VerifyURL:         cfg.Captcha.VerifyURL,
			Timeout:           cfg.Captcha.Timeout,
			MinScore:          cfg.Captcha.MinScore,
			MaxRetries:        cfg.Captcha.MaxRetries,
			RequestsPerSecond: cfg.Captcha.RequestsPerSecond,
		}, nil, logger)
	}
	riskService := services.NewRiskService(ledger, verifier, services.RiskConfig{
		HumanThreshold:        cfg.Risk.HumanThreshold,
		SuspiciousThreshold:   cfg.Risk.SuspiciousThreshold,
		Lookback:              cfg.Risk.Lookback,
		IPFailureLimit:        cfg.Risk.IPFailureLimit,
		DistinctIPLimit:       cfg.Risk.DistinctIPLimit,
		UserAgentFailureLimit: cfg.Risk.UserAgentFailureLimit,
		CaptchaTimeout:        cfg.Captcha.Timeout,
		CaptchaFailOpen:       cfg.Captcha.FailOpen,
	}, logger, auditLogger)

	guardService := services.NewGuardService(rateLimitService, lockoutService, logger, auditLogger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	failureFloor := auth.NewFailureFloor(250*time.Millisecond, 100*time.Millisecond)
	authService := services.NewAuthService(userRepo, tokenManager, guardService, failureFloor, logger, auditLogger)

	// Bootstrap first admin user if configured
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, authService, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	cleanupManager := background.NewCleanupManager(lockoutService, counter, logger, cfg.Auth.CleanupInterval)

	var gate *services.RiskService
	if cfg.Captcha.Enabled {
		gate = riskService
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ips))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.FloodGuard(middlewareCustom.FloodGuardConfig{RequestsPerMinute: cfg.RateLimit.GlobalPerMinute}, ips))
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:     handlers.NewAuthHandler(authService, ips, logger),
		LockoutHandler:  handlers.NewLockoutHandler(lockoutService, logger, auditLogger),
		SecurityHandler: handlers.NewSecurityHandler(riskService),
		HealthHandler:   handlers.NewHealthHandler(healthChecks),
		TokenManager:    tokenManager,
		RateLimiter:     rateLimitService,
		Risk:            gate,
		IPs:             ips,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func rateLimitConfig(cfg *config.Config) services.RateLimitConfig {
	rl := services.DefaultRateLimitConfig()
	rl.Login = models.RateLimitPolicy{MaxAttempts: cfg.RateLimit.LoginMaxAttempts, Window: cfg.RateLimit.LoginWindow}
	rl.Default = models.RateLimitPolicy{MaxAttempts: cfg.RateLimit.DefaultMaxAttempt, Window: cfg.RateLimit.DefaultWindow}
	rl.FailOpen = cfg.RateLimit.FailOpen
	for path, policy := range cfg.RateLimit.Routes {
		rl.Routes[path] = models.RateLimitPolicy{MaxAttempts: policy.MaxAttempts, Window: policy.Window}
	}
	return rl
}

func lockoutNotifier(cfg *config.Config, logger *slog.Logger) services.LockoutNotifier {
	if !cfg.Email.Enabled {
		return services.NewLogLockoutNotifier(logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifier, err := services.NewSESLockoutNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize SES notifier, falling back to log notifier", slog.Any("error", err))
		return services.NewLogLockoutNotifier(logger)
	}
	return notifier
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, authService *services.AuthService, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, created, err := authService.EnsureUser(ctx, adminEmail, adminPassword, "Admin", "admin")
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin user created successfully")
	} else {
		logger.Info("admin user already exists")
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
