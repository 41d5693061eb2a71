package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChallengeService(store ChallengeRepository, email EmailService) *ChallengeService {
	return NewChallengeService(store, email, newTestAuditService(&MockLoginAttemptRepository{}),
		6, 5*time.Minute, 3, quietLogger())
}

func testUser() *models.User {
	return &models.User{
		ID:       "user-1",
		Username: "alice",
		Email:    "alice@example.com",
		Role:     models.RoleViewer,
		Status:   models.StatusActive,
	}
}

func TestChallengeService_IssueAndVerify(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	challenge, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)
	assert.Len(t, challenge.Code, 6)
	assert.True(t, challenge.ExpiresAt.After(challenge.CreatedAt))

	verification, err := svc.Verify(context.Background(), "alice", challenge.Code)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeOutcomeVerified, verification.Outcome)
}

func TestChallengeService_IssueWhileActiveFails(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	_, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), testUser())
	require.ErrorIs(t, err, models.ErrChallengeAlreadyActive)

	var active *models.ChallengeActiveError
	require.ErrorAs(t, err, &active)
	assert.Greater(t, active.RemainingSeconds, 0)
	assert.LessOrEqual(t, active.RemainingSeconds, 300)
}

func TestChallengeService_IssueAfterExpirySucceeds(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	_, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	// Move the service clock past the first challenge's expiry.
	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	_, err = svc.Issue(context.Background(), testUser())
	assert.NoError(t, err)
}

func TestChallengeService_DeliveryFailureRollsBack(t *testing.T) {
	store := NewInMemoryChallengeStore()
	email := &MockEmailService{
		SendOtpEmailFunc: func(context.Context, string, string, string, time.Time) error {
			return fmt.Errorf("ses unavailable")
		},
	}
	svc := newChallengeService(store, email)

	_, err := svc.Issue(context.Background(), testUser())
	require.ErrorIs(t, err, models.ErrNotifierUnavailable)

	// No orphaned challenge: verification has nothing on record.
	_, err = svc.Verify(context.Background(), "alice", "123456")
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestChallengeService_VerifyMalformedCode(t *testing.T) {
	svc := newChallengeService(NewInMemoryChallengeStore(), &MockEmailService{})

	for _, code := range []string{"", "12345", "1234567", "12a456", "abcdef"} {
		_, err := svc.Verify(context.Background(), "alice", code)
		assert.ErrorIs(t, err, models.ErrMalformedCode, "code %q", code)
	}
}

func TestChallengeService_VerifyNoChallenge(t *testing.T) {
	svc := newChallengeService(NewInMemoryChallengeStore(), &MockEmailService{})

	_, err := svc.Verify(context.Background(), "alice", "123456")
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestChallengeService_VerifyExpired(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	challenge, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	_, err = svc.Verify(context.Background(), "alice", challenge.Code)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestChallengeService_AttemptsExhausted(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	challenge, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	wrong := "000000"
	if wrong == challenge.Code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		verification, err := svc.Verify(context.Background(), "alice", wrong)
		require.NoError(t, err)
		assert.Equal(t, models.ChallengeOutcomeMismatch, verification.Outcome)
		assert.Equal(t, 2-i, verification.AttemptsRemaining)
	}

	// Fourth attempt is exhausted even with the correct code.
	_, err = svc.Verify(context.Background(), "alice", challenge.Code)
	assert.ErrorIs(t, err, models.ErrChallengeAttemptsExhausted)
}

func TestChallengeService_VerifiedChallengeIsSingleUse(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	challenge, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "alice", challenge.Code)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "alice", challenge.Code)
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestChallengeService_ConcurrentVerifyRespectsAttemptCap(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	challenge, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	wrong := "000000"
	if wrong == challenge.Code {
		wrong = "000001"
	}

	var wg sync.WaitGroup
	mismatches := make(chan int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verification, err := svc.Verify(context.Background(), "alice", wrong)
			if err == nil && verification.Outcome == models.ChallengeOutcomeMismatch {
				mismatches <- 1
			}
		}()
	}
	wg.Wait()
	close(mismatches)

	count := 0
	for range mismatches {
		count++
	}
	assert.Equal(t, 3, count, "exactly maxAttempts mismatches may increment")

	status, err := svc.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Attempts)
	assert.Equal(t, 0, status.AttemptsRemaining)
}

func TestChallengeService_Status(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	_, err := svc.Status(context.Background(), "alice")
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)

	_, err = svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, status.Verified)
	assert.Equal(t, 0, status.Attempts)
	assert.Equal(t, 3, status.AttemptsRemaining)
	assert.Greater(t, status.RemainingSeconds, 290)
}

func TestChallengeService_Resend(t *testing.T) {
	store := NewInMemoryChallengeStore()
	svc := newChallengeService(store, &MockEmailService{})

	first, err := svc.Issue(context.Background(), testUser())
	require.NoError(t, err)

	second, err := svc.Resend(context.Background(), testUser())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The old code is gone; only the new one verifies.
	if first.Code != second.Code {
		verification, err := svc.Verify(context.Background(), "alice", second.Code)
		require.NoError(t, err)
		assert.Equal(t, models.ChallengeOutcomeVerified, verification.Outcome)
	}
}
