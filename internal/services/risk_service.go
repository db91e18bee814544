package services

import (
	"context"
	"log/slog"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// CaptchaVerifier is the external CAPTCHA oracle
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*models.CaptchaResult, error)
}

// RiskConfig holds thresholds for the additive risk score
type RiskConfig struct {
	HumanThreshold        int // isHuman = score < HumanThreshold
	SuspiciousThreshold   int // isSuspicious = score > SuspiciousThreshold
	Lookback              time.Duration
	IPFailureLimit        int
	DistinctIPLimit       int
	UserAgentFailureLimit int
	CaptchaTimeout        time.Duration
	// CaptchaFailOpen treats an unreachable or timed out oracle as a pass
	CaptchaFailOpen bool
}

// DefaultRiskConfig returns the stock thresholds
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		HumanThreshold:        50,
		SuspiciousThreshold:   40,
		Lookback:              time.Hour,
		IPFailureLimit:        20,
		DistinctIPLimit:       10,
		UserAgentFailureLimit: 15,
		CaptchaTimeout:        5 * time.Second,
		CaptchaFailOpen:       false,
	}
}

// Score weights
const (
	captchaFailureWeight   = 100
	botUserAgentWeight     = 50
	privateIPWeight        = 20
	ipFailureWeight        = 40
	distinctIPWeight       = 30
	userAgentFailureWeight = 20

	maxRiskScore = 100
)

// Reasons reported in assessments. They are logged and shown to operators,
// never returned to the client being scored.
const (
	ReasonCaptchaMissing      = "captcha token missing"
	ReasonCaptchaFailed       = "captcha verification failed"
	ReasonCaptchaUnavailable  = "captcha verification unavailable"
	ReasonBotUserAgent        = "user agent matches automation pattern"
	ReasonPrivateAddress      = "request from private or loopback address"
	ReasonIPFailureVolume     = "high failed login volume from address"
	ReasonDistinctIPFanOut    = "failed logins spread across many addresses"
	ReasonUserAgentFailureRun = "repeated failed logins sharing user agent"
)

var botUserAgentPattern = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|headless|phantom|selenium|webdriver`)

// RiskService fuses CAPTCHA outcome, user agent heuristics, address class and
// ledger history into a 0-100 score. It never writes to the ledger.
type RiskService struct {
	ledger      FailedAttemptLedger
	captcha     CaptchaVerifier
	config      RiskConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewRiskService creates a new RiskService. When captcha is nil the CAPTCHA
// factor is not scored.
func NewRiskService(ledger FailedAttemptLedger, captcha CaptchaVerifier, config RiskConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *RiskService {
	return &RiskService{
		ledger:      ledger,
		captcha:     captcha,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Assess scores a single request for CAPTCHA-gated routes
func (s *RiskService) Assess(ctx context.Context, token, userAgent, ipAddress string) *models.RiskAssessment {
	score := 0
	reasons := []string{}

	if s.captcha != nil {
		if ok, reason := s.verifyCaptcha(ctx, token, ipAddress); !ok {
			score += captchaFailureWeight
			reasons = append(reasons, reason)
		}
	}

	if IsAutomatedUserAgent(userAgent) {
		score += botUserAgentWeight
		reasons = append(reasons, ReasonBotUserAgent)
	}

	if IsPrivateAddress(ipAddress) {
		score += privateIPWeight
		reasons = append(reasons, ReasonPrivateAddress)
	}

	return s.finalize(score, reasons)
}

// Gate assesses the request and returns models.ErrRiskTooHigh when it does not
// look human. Score and reasons are logged, never put in the error.
func (s *RiskService) Gate(ctx context.Context, token, userAgent, ipAddress string) (*models.RiskAssessment, error) {
	assessment := s.Assess(ctx, token, userAgent, ipAddress)
	if assessment.IsHuman {
		return assessment, nil
	}

	s.logger.Warn("risk gate denied request",
		slog.String("ip_address", ipAddress),
		slog.Int("score", assessment.Score),
		slog.String("reasons", strings.Join(assessment.Reasons, ", ")))
	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType:     pkglogger.EventRiskDenied,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		FailureReason: strings.Join(assessment.Reasons, ", "),
	})

	return assessment, models.ErrRiskTooHigh
}

// SuspiciousActivity flags broad anomalies in the trailing lookback window.
// It is meant for alerting, not for gating a single request. The ledger
// counts run concurrently and an error drops only the affected factor.
func (s *RiskService) SuspiciousActivity(ctx context.Context, ipAddress, userAgent string, now time.Time) *models.RiskAssessment {
	since := now.Add(-s.config.Lookback)

	var (
		g                             errgroup.Group
		byIP, distinctIPs, byUA       int
		byIPErr, distinctErr, byUAErr error
	)
	if ipAddress != "" {
		g.Go(func() error {
			byIP, byIPErr = s.ledger.CountByIPSince(ctx, ipAddress, since)
			return nil
		})
	}
	g.Go(func() error {
		distinctIPs, distinctErr = s.ledger.DistinctIPsSince(ctx, since)
		return nil
	})
	if userAgent != "" {
		g.Go(func() error {
			byUA, byUAErr = s.ledger.CountByUserAgentSince(ctx, userAgent, since)
			return nil
		})
	}
	_ = g.Wait()

	score := 0
	reasons := []string{}

	if byIPErr != nil {
		s.logger.Error("failed to count failures by ip", slog.Any("error", byIPErr))
	} else if byIP > s.config.IPFailureLimit {
		score += ipFailureWeight
		reasons = append(reasons, ReasonIPFailureVolume)
	}

	if distinctErr != nil {
		s.logger.Error("failed to count distinct failing addresses", slog.Any("error", distinctErr))
	} else if distinctIPs > s.config.DistinctIPLimit {
		score += distinctIPWeight
		reasons = append(reasons, ReasonDistinctIPFanOut)
	}

	if byUAErr != nil {
		s.logger.Error("failed to count failures by user agent", slog.Any("error", byUAErr))
	} else if byUA > s.config.UserAgentFailureLimit {
		score += userAgentFailureWeight
		reasons = append(reasons, ReasonUserAgentFailureRun)
	}

	return s.finalize(score, reasons)
}

// verifyCaptcha asks the oracle under an explicit timeout. Oracle errors fail
// closed unless CaptchaFailOpen is set.
func (s *RiskService) verifyCaptcha(ctx context.Context, token, ipAddress string) (bool, string) {
	if strings.TrimSpace(token) == "" {
		return false, ReasonCaptchaMissing
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.CaptchaTimeout)
	defer cancel()

	result, err := s.captcha.Verify(ctx, token, ipAddress)
	if err != nil {
		if s.config.CaptchaFailOpen {
			s.logger.Warn("captcha oracle unavailable, failing open", slog.Any("error", err))
			return true, ""
		}
		s.logger.Error("captcha oracle unavailable, failing closed", slog.Any("error", err))
		return false, ReasonCaptchaUnavailable
	}

	if !result.Success {
		s.logger.Info("captcha verification failed", slog.Any("error_codes", result.ErrorCodes))
		return false, ReasonCaptchaFailed
	}

	return true, ""
}

func (s *RiskService) finalize(score int, reasons []string) *models.RiskAssessment {
	if score > maxRiskScore {
		score = maxRiskScore
	}

	assessment := &models.RiskAssessment{
		Score:        score,
		Reasons:      reasons,
		IsHuman:      score < s.config.HumanThreshold,
		IsSuspicious: score > s.config.SuspiciousThreshold,
	}

	if assessment.IsSuspicious {
		s.logger.Warn("suspicious login activity",
			slog.Int("score", score),
			slog.String("reasons", strings.Join(reasons, ", ")))
	}

	return assessment
}

// IsAutomatedUserAgent reports whether the user agent names a known bot or
// browser automation tool
func IsAutomatedUserAgent(userAgent string) bool {
	return botUserAgentPattern.MatchString(userAgent)
}

// IsPrivateAddress reports whether ip is loopback or in a private range
// (RFC 1918 for IPv4, unique local for IPv6)
func IsPrivateAddress(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback()
}
