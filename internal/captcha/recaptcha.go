// Package captcha verifies CAPTCHA tokens against a siteverify endpoint
// (reCAPTCHA, hCaptcha and Turnstile all speak the same form protocol).
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrScoreTooLow is reported in ErrorCodes when a scored token falls under MinScore
const ErrScoreTooLow = "score-too-low"

// ErrUnavailable wraps transport failures and unexpected oracle responses
var ErrUnavailable = errors.New("captcha oracle unavailable")

const maxResponseBytes = 64 << 10

type Config struct {
	Secret            string
	VerifyURL         string
	Timeout           time.Duration
	MinScore          float64
	MaxRetries        int
	RequestsPerSecond float64
}

// Client calls the siteverify endpoint. Outbound calls are throttled and
// retried with exponential backoff on transport or 5xx errors. Every call is
// its own verification: tokens are single use, so concurrent callers with the
// same token never share a verdict.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(config Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	limit := rate.Inf
	burst := 1
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
		burst = max(int(config.RequestsPerSecond), 1)
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// Verify checks token with the oracle. A nil error with Success false means
// the oracle rejected the token. Errors mean no verdict could be obtained.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (*models.CaptchaResult, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(c.config.MaxRetries, 0))),
		ctx,
	)

	var result *models.CaptchaResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}

		r, err := c.post(ctx, token, remoteIP)
		if err != nil {
			c.logger.Warn("captcha verification attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		result = r
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	if result.Success && result.Score != nil && *result.Score < c.config.MinScore {
		result.Success = false
		result.ErrorCodes = append(result.ErrorCodes, ErrScoreTooLow)
	}

	return result, nil
}

func (c *Client) post(ctx context.Context, token, remoteIP string) (*models.CaptchaResult, error) {
	form := url.Values{}
	form.Set("secret", c.config.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	}

	var result models.CaptchaResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err))
	}

	return &result, nil
}
