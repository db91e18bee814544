package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESSender is the slice of the SES client used to send mail
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier emails the account owner when a lockout is placed
type SESLockoutNotifier struct {
	client      SESSender
	fromAddress string
	logger      *slog.Logger
}

// NewSESLockoutNotifier loads the default AWS credential chain for region
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESLockoutNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESLockoutNotifierWithClient(client SESSender, fromAddress string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// NotifyLockout sends the lockout notice. The lock reason is not included.
func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, lockout *models.AccountLockout) error {
	until := lockout.LockedUntil.UTC().Format("Jan 2, 2006 at 15:04 MST")
	minutes := int(lockout.Duration().Round(time.Minute).Minutes())

	textBody := fmt.Sprintf(`Your account has been temporarily locked

We noticed several unsuccessful sign-in attempts on your account, so we have locked it for %d minutes.

You can sign in again after %s.

If these attempts were not made by you, we recommend changing your password once the lock expires.

This is an automated message. Please do not reply to this email.
`, minutes, until)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>Your account has been temporarily locked</h2>
    <p>We noticed several unsuccessful sign-in attempts on your account, so we have locked it for %d minutes.</p>
    <p>You can sign in again after <strong>%s</strong>.</p>
    <p>If these attempts were not made by you, we recommend changing your password once the lock expires.</p>
    <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
</body>
</html>
`, minutes, until)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{lockout.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your account has been temporarily locked"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send lockout email: %w", err)
	}

	n.logger.Info("lockout notification sent",
		slog.String("email", pkglogger.SanitizedEmail(lockout.Email)),
		slog.Time("locked_until", lockout.LockedUntil))
	return nil
}

// LogLockoutNotifier only logs the notice, for deployments without SES
type LogLockoutNotifier struct {
	logger *slog.Logger
}

func NewLogLockoutNotifier(logger *slog.Logger) *LogLockoutNotifier {
	return &LogLockoutNotifier{logger: logger}
}

func (n *LogLockoutNotifier) NotifyLockout(_ context.Context, lockout *models.AccountLockout) error {
	n.logger.Info("lockout notification (email disabled)",
		slog.String("email", pkglogger.SanitizedEmail(lockout.Email)),
		slog.Time("locked_until", lockout.LockedUntil))
	return nil
}

// AccountLookup resolves an email to its account
type AccountLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// OwnerOnlyNotifier forwards lockout notices only when the locked email
// belongs to an account. Lockouts on addresses nobody registered send nothing.
type OwnerOnlyNotifier struct {
	users  AccountLookup
	next   LockoutNotifier
	logger *slog.Logger
}

func NewOwnerOnlyNotifier(users AccountLookup, next LockoutNotifier, logger *slog.Logger) *OwnerOnlyNotifier {
	return &OwnerOnlyNotifier{users: users, next: next, logger: logger}
}

func (n *OwnerOnlyNotifier) NotifyLockout(ctx context.Context, lockout *models.AccountLockout) error {
	user, err := n.users.GetByEmail(ctx, lockout.Email)
	if errors.Is(err, models.ErrNotFound) {
		n.logger.Info("lockout on unknown account, no notice sent",
			slog.String("email", pkglogger.SanitizedEmail(lockout.Email)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up lockout owner: %w", err)
	}

	notice := *lockout
	notice.Email = user.Email
	return n.next.NotifyLockout(ctx, &notice)
}
