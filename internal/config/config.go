package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	Risk      RiskConfig
	Captcha   CaptchaConfig
	Redis     RedisConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CleanupInterval   time.Duration
	LedgerRetention   time.Duration
	GuardStore        string // memory|postgres, backs the ledger and lockouts
}

// RateLimitConfig configures the per-fingerprint window limiter
type RateLimitConfig struct {
	Store             string // memory|postgres|redis
	LoginMaxAttempts  int
	LoginWindow       time.Duration
	DefaultMaxAttempt int
	DefaultWindow     time.Duration
	Routes            map[string]RoutePolicy
	FailOpen          bool
	GlobalPerMinute   int // coarse per-IP flood guard in front of every route
}

// RoutePolicy overrides the default window for one route
type RoutePolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// LockoutConfig configures account lockout and escalation
type LockoutConfig struct {
	MaxFailedAttempts  int
	AttemptWindow      time.Duration
	BaseDuration       time.Duration
	EscalatedDuration  time.Duration
	EscalationWindow   time.Duration
	EscalateAtLockouts int
	FailOpen           bool
}

// RiskConfig configures the additive risk score
type RiskConfig struct {
	HumanThreshold        int
	SuspiciousThreshold   int
	Lookback              time.Duration
	IPFailureLimit        int
	DistinctIPLimit       int
	UserAgentFailureLimit int
}

// CaptchaConfig configures the CAPTCHA oracle client
type CaptchaConfig struct {
	Enabled           bool
	Secret            string
	VerifyURL         string
	Timeout           time.Duration
	FailOpen          bool
	MinScore          float64
	MaxRetries        int
	RequestsPerSecond float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	routes, err := parseRoutePolicies(getEnv("RATE_LIMIT_ROUTES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loginguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			LedgerRetention:   getEnvAsDuration("LEDGER_RETENTION", 24*time.Hour),
			GuardStore:        strings.ToLower(getEnv("GUARD_STORE", StorePostgres)),
		},
		RateLimit: RateLimitConfig{
			Store:             strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
			LoginMaxAttempts:  getEnvAsInt("RATE_LIMIT_LOGIN_MAX", 5),
			LoginWindow:       getEnvAsDuration("RATE_LIMIT_LOGIN_WINDOW", 5*time.Minute),
			DefaultMaxAttempt: getEnvAsInt("RATE_LIMIT_DEFAULT_MAX", 5),
			DefaultWindow:     getEnvAsDuration("RATE_LIMIT_DEFAULT_WINDOW", 15*time.Minute),
			Routes:            routes,
			FailOpen:          getEnvAsBool("RATE_LIMIT_FAIL_OPEN", true),
			GlobalPerMinute:   getEnvAsInt("RATE_LIMIT_GLOBAL_PER_MINUTE", 120),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts:  getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			AttemptWindow:      getEnvAsDuration("LOCKOUT_ATTEMPT_WINDOW", time.Hour),
			BaseDuration:       getEnvAsDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			EscalatedDuration:  getEnvAsDuration("LOCKOUT_ESCALATED_DURATION", 60*time.Minute),
			EscalationWindow:   getEnvAsDuration("LOCKOUT_ESCALATION_WINDOW", 24*time.Hour),
			EscalateAtLockouts: getEnvAsInt("LOCKOUT_ESCALATE_AT", 2),
			FailOpen:           getEnvAsBool("LOCKOUT_FAIL_OPEN", true),
		},
		Risk: RiskConfig{
			HumanThreshold:        getEnvAsInt("RISK_HUMAN_THRESHOLD", 50),
			SuspiciousThreshold:   getEnvAsInt("RISK_SUSPICIOUS_THRESHOLD", 40),
			Lookback:              getEnvAsDuration("RISK_LOOKBACK", time.Hour),
			IPFailureLimit:        getEnvAsInt("RISK_IP_FAILURE_LIMIT", 20),
			DistinctIPLimit:       getEnvAsInt("RISK_DISTINCT_IP_LIMIT", 10),
			UserAgentFailureLimit: getEnvAsInt("RISK_USER_AGENT_FAILURE_LIMIT", 15),
		},
		Captcha: CaptchaConfig{
			Enabled:           getEnvAsBool("CAPTCHA_ENABLED", false),
			Secret:            getEnv("CAPTCHA_SECRET", ""),
			VerifyURL:         getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			Timeout:           getEnvAsDuration("CAPTCHA_TIMEOUT", 5*time.Second),
			FailOpen:          getEnvAsBool("CAPTCHA_FAIL_OPEN", false),
			MinScore:          getEnvAsFloat("CAPTCHA_MIN_SCORE", 0.5),
			MaxRetries:        getEnvAsInt("CAPTCHA_MAX_RETRIES", 2),
			RequestsPerSecond: getEnvAsFloat("CAPTCHA_REQUESTS_PER_SECOND", 50),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", "security@localhost"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the defense layer cannot operate with
func (c *Config) Validate() error {
	switch c.RateLimit.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be one of memory, postgres, redis (got %q)", c.RateLimit.Store)
	}

	switch c.Auth.GuardStore {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("GUARD_STORE must be one of memory, postgres (got %q)", c.Auth.GuardStore)
	}

	if c.RateLimit.LoginMaxAttempts < 1 || c.RateLimit.DefaultMaxAttempt < 1 {
		return fmt.Errorf("rate limit max attempts must be at least 1")
	}
	if c.RateLimit.LoginWindow <= 0 || c.RateLimit.DefaultWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if c.RateLimit.GlobalPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_GLOBAL_PER_MINUTE must be at least 1")
	}

	if c.Auth.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}

	if c.Lockout.MaxFailedAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if c.Lockout.BaseDuration <= 0 || c.Lockout.AttemptWindow <= 0 || c.Lockout.EscalationWindow <= 0 {
		return fmt.Errorf("lockout durations must be positive")
	}
	if c.Lockout.EscalatedDuration < c.Lockout.BaseDuration {
		return fmt.Errorf("LOCKOUT_ESCALATED_DURATION must not be shorter than LOCKOUT_BASE_DURATION")
	}
	if c.Lockout.EscalateAtLockouts < 2 {
		return fmt.Errorf("LOCKOUT_ESCALATE_AT must be at least 2")
	}
	if c.Auth.LedgerRetention < c.Lockout.AttemptWindow {
		return fmt.Errorf("LEDGER_RETENTION must not be shorter than LOCKOUT_ATTEMPT_WINDOW")
	}

	if !inScoreRange(c.Risk.HumanThreshold) || !inScoreRange(c.Risk.SuspiciousThreshold) {
		return fmt.Errorf("risk thresholds must be between 0 and 100")
	}

	if c.Captcha.Enabled {
		if c.Captcha.Secret == "" {
			return fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED is true")
		}
		if c.Captcha.Timeout <= 0 {
			return fmt.Errorf("CAPTCHA_TIMEOUT must be positive")
		}
	}

	return nil
}

func inScoreRange(v int) bool {
	return v >= 0 && v <= 100
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// parseRoutePolicies parses "path=max/window" pairs separated by commas,
// e.g. "/auth/refresh=10/1m,/users=30/1m"
func parseRoutePolicies(raw string) (map[string]RoutePolicy, error) {
	policies := make(map[string]RoutePolicy)
	if strings.TrimSpace(raw) == "" {
		return policies, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		path, rule, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q", entry)
		}

		maxStr, windowStr, ok := strings.Cut(rule, "/")
		if !ok {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: want path=max/window", entry)
		}

		max, err := strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil || max < 1 {
			return nil, fmt.Errorf("invalid max attempts in RATE_LIMIT_ROUTES entry %q", entry)
		}

		window, err := time.ParseDuration(strings.TrimSpace(windowStr))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid window in RATE_LIMIT_ROUTES entry %q", entry)
		}

		policies[strings.TrimSpace(path)] = RoutePolicy{MaxAttempts: max, Window: window}
	}

	return policies, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
