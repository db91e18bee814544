package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/store/memory"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSESSender struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSESSender) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func testLockout(email string) *models.AccountLockout {
	lockedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.AccountLockout{
		ID:          "lock-1",
		Email:       email,
		LockReason:  "too many failed login attempts",
		LockedAt:    lockedAt,
		LockedUntil: lockedAt.Add(15 * time.Minute),
		Attempts:    5,
		IsActive:    true,
	}
}

func TestSESLockoutNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSESSender{}
	n := NewSESLockoutNotifierWithClient(sender, "security@example.com", testLogger())

	require.NoError(t, n.NotifyLockout(context.Background(), testLockout("owner@example.com")))
	require.Len(t, sender.inputs, 1)

	input := sender.inputs[0]
	assert.Equal(t, "security@example.com", aws.ToString(input.Source))
	assert.Equal(t, []string{"owner@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "Your account has been temporarily locked", aws.ToString(input.Message.Subject.Data))

	text := aws.ToString(input.Message.Body.Text.Data)
	assert.Contains(t, text, "15 minutes")
	assert.Contains(t, text, "Mar 1, 2026 at 09:15 UTC")
	assert.NotContains(t, text, "too many failed login attempts", "the lock reason stays server side")
}

func TestSESLockoutNotifier_SendError(t *testing.T) {
	sender := &fakeSESSender{err: errors.New("throttled")}
	n := NewSESLockoutNotifierWithClient(sender, "security@example.com", testLogger())

	err := n.NotifyLockout(context.Background(), testLockout("owner@example.com"))
	assert.ErrorContains(t, err, "throttled")
}

func TestOwnerOnlyNotifier(t *testing.T) {
	users := &MockUserRepository{
		GetByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			switch email {
			case "owner@example.com":
				return NewTestUser("user-1", "Owner@Example.com", "hash"), nil
			case "broken@example.com":
				return nil, errors.New("db down")
			}
			return nil, models.ErrNotFound
		},
	}

	t.Run("unknown address sends nothing", func(t *testing.T) {
		next := &RecordingNotifier{}
		n := NewOwnerOnlyNotifier(users, next, testLogger())

		require.NoError(t, n.NotifyLockout(context.Background(), testLockout("victim@elsewhere.com")))
		assert.Empty(t, next.Lockouts)
	})

	t.Run("account owner is notified at the stored address", func(t *testing.T) {
		next := &RecordingNotifier{}
		n := NewOwnerOnlyNotifier(users, next, testLogger())

		require.NoError(t, n.NotifyLockout(context.Background(), testLockout("owner@example.com")))
		require.Len(t, next.Lockouts, 1)
		assert.Equal(t, "Owner@Example.com", next.Lockouts[0].Email)
	})

	t.Run("lookup error sends nothing", func(t *testing.T) {
		next := &RecordingNotifier{}
		n := NewOwnerOnlyNotifier(users, next, testLogger())

		assert.Error(t, n.NotifyLockout(context.Background(), testLockout("broken@example.com")))
		assert.Empty(t, next.Lockouts)
	})
}

func TestLockoutService_UnknownAccountLockoutSendsNoNotice(t *testing.T) {
	recorder := &RecordingNotifier{}
	notifier := NewOwnerOnlyNotifier(&MockUserRepository{}, recorder, testLogger())
	svc := NewLockoutService(memory.NewLedger(), memory.NewLockouts(), DefaultLockoutConfig(), testLogger(), testAuditLogger(), notifier)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var status *models.LockoutStatus
	for i := 0; i < 5; i++ {
		var err error
		status, err = svc.RecordFailure(context.Background(), "nobody@example.com", "203.0.113.5", "Mozilla/5.0", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	assert.True(t, status.IsLocked, "unknown accounts still lock")
	assert.Empty(t, recorder.Lockouts)
}
