package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captchaReturning(success bool, err error) *MockCaptchaVerifier {
	return &MockCaptchaVerifier{
		VerifyFunc: func(context.Context, string, string) (*models.CaptchaResult, error) {
			if err != nil {
				return nil, err
			}
			return &models.CaptchaResult{Success: success}, nil
		},
	}
}

func TestRiskService_Assess(t *testing.T) {
	const browser = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15"

	tests := []struct {
		name      string
		captcha   CaptchaVerifier
		token     string
		userAgent string
		ip        string
		score     int
		human     bool
		reasons   []string
	}{
		{"clean browser", captchaReturning(true, nil), "tok", browser, "203.0.113.9", 0, true, []string{}},
		{"no captcha configured", nil, "", browser, "203.0.113.9", 0, true, []string{}},
		{"missing token", captchaReturning(true, nil), "", browser, "203.0.113.9", 100, false, []string{ReasonCaptchaMissing}},
		{"failed captcha", captchaReturning(false, nil), "tok", browser, "203.0.113.9", 100, false, []string{ReasonCaptchaFailed}},
		{"oracle down fails closed", captchaReturning(false, errors.New("timeout")), "tok", browser, "203.0.113.9", 100, false, []string{ReasonCaptchaUnavailable}},
		{"headless chrome", captchaReturning(true, nil), "tok", "HeadlessChrome/120.0", "203.0.113.9", 50, false, []string{ReasonBotUserAgent}},
		{"private address", captchaReturning(true, nil), "tok", browser, "192.168.1.20", 20, true, []string{ReasonPrivateAddress}},
		{"bot on loopback", nil, "", "python-requests crawler", "127.0.0.1", 70, false, []string{ReasonBotUserAgent, ReasonPrivateAddress}},
		{"everything wrong is capped", captchaReturning(false, nil), "tok", "Selenium", "10.0.0.1", 100, false, []string{ReasonCaptchaFailed, ReasonBotUserAgent, ReasonPrivateAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewRiskService(memory.NewLedger(), tt.captcha, DefaultRiskConfig(), testLogger(), testAuditLogger())

			assessment := svc.Assess(context.Background(), tt.token, tt.userAgent, tt.ip)

			assert.Equal(t, tt.score, assessment.Score)
			assert.Equal(t, tt.human, assessment.IsHuman)
			assert.Equal(t, tt.score > 40, assessment.IsSuspicious)
			assert.Equal(t, tt.reasons, assessment.Reasons)
		})
	}
}

func TestRiskService_CaptchaFailOpen(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.CaptchaFailOpen = true
	svc := NewRiskService(memory.NewLedger(), captchaReturning(false, errors.New("timeout")), cfg, testLogger(), testAuditLogger())

	assessment := svc.Assess(context.Background(), "tok", "Mozilla/5.0", "203.0.113.9")

	assert.True(t, assessment.IsHuman)
	assert.Zero(t, assessment.Score)
}

func TestRiskService_CaptchaTimeout(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.CaptchaTimeout = 20 * time.Millisecond
	slow := &MockCaptchaVerifier{
		VerifyFunc: func(ctx context.Context, _, _ string) (*models.CaptchaResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := NewRiskService(memory.NewLedger(), slow, cfg, testLogger(), testAuditLogger())

	start := time.Now()
	assessment := svc.Assess(context.Background(), "tok", "Mozilla/5.0", "203.0.113.9")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{ReasonCaptchaUnavailable}, assessment.Reasons)
}

func TestRiskService_Gate(t *testing.T) {
	svc := NewRiskService(memory.NewLedger(), captchaReturning(false, nil), DefaultRiskConfig(), testLogger(), testAuditLogger())

	_, err := svc.Gate(context.Background(), "tok", "Mozilla/5.0", "203.0.113.9")
	assert.ErrorIs(t, err, models.ErrRiskTooHigh)
	assert.NotContains(t, err.Error(), "captcha", "the denial does not reveal which factor tripped")

	svc = NewRiskService(memory.NewLedger(), captchaReturning(true, nil), DefaultRiskConfig(), testLogger(), testAuditLogger())
	assessment, err := svc.Gate(context.Background(), "tok", "Mozilla/5.0", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, assessment.IsHuman)
}

func TestRiskService_SuspiciousActivity(t *testing.T) {
	ledger := memory.NewLedger()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// 21 failures from one address sharing one user agent, plus 11 other addresses
	for i := 0; i < 21; i++ {
		require.NoError(t, ledger.Record(ctx, &models.FailedLoginAttempt{
			Email: fmt.Sprintf("u%d@test.com", i), IPAddress: "198.51.100.1", UserAgent: "curl/8.0", Timestamp: now.Add(-time.Minute),
		}))
	}
	for i := 0; i < 11; i++ {
		require.NoError(t, ledger.Record(ctx, &models.FailedLoginAttempt{
			Email: "v@test.com", IPAddress: fmt.Sprintf("203.0.113.%d", i), UserAgent: "Mozilla/5.0", Timestamp: now.Add(-time.Minute),
		}))
	}

	svc := NewRiskService(ledger, nil, DefaultRiskConfig(), testLogger(), testAuditLogger())

	assessment := svc.SuspiciousActivity(ctx, "198.51.100.1", "curl/8.0", now)
	assert.Equal(t, 90, assessment.Score)
	assert.True(t, assessment.IsSuspicious)
	assert.ElementsMatch(t, []string{ReasonIPFailureVolume, ReasonDistinctIPFanOut, ReasonUserAgentFailureRun}, assessment.Reasons)

	quiet := svc.SuspiciousActivity(ctx, "198.51.100.1", "curl/8.0", now.Add(2*time.Hour))
	assert.Zero(t, quiet.Score, "activity outside the lookback is ignored")
}

func TestRiskService_SuspiciousActivityToleratesLedgerErrors(t *testing.T) {
	svc := NewRiskService(&FailingLedger{Err: errors.New("db down")}, nil, DefaultRiskConfig(), testLogger(), testAuditLogger())

	assessment := svc.SuspiciousActivity(context.Background(), "198.51.100.1", "curl/8.0", time.Now())

	assert.Zero(t, assessment.Score)
	assert.False(t, assessment.IsSuspicious)
}

func TestIsPrivateAddress(t *testing.T) {
	for ip, want := range map[string]bool{
		"10.1.2.3":        true,
		"172.16.0.1":      true,
		"172.32.0.1":      false,
		"192.168.0.1":     true,
		"127.0.0.1":       true,
		"::1":             true,
		"fd12::1":         true,
		"::ffff:10.0.0.1": true,
		"8.8.8.8":         false,
		"2001:4860::8888": false,
		"not-an-ip":       false,
	} {
		assert.Equal(t, want, IsPrivateAddress(ip), ip)
	}
}

func TestIsAutomatedUserAgent(t *testing.T) {
	assert.True(t, IsAutomatedUserAgent("Googlebot/2.1"))
	assert.True(t, IsAutomatedUserAgent("Mozilla/5.0 HeadlessChrome/120"))
	assert.True(t, IsAutomatedUserAgent("PhantomJS"))
	assert.False(t, IsAutomatedUserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/121.0"))
}
