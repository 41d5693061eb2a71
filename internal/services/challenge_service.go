package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/pkg/auth"
)

// ChallengeRepository is the OTP persistence surface. The mutating
// methods are atomic with respect to the read that decided them.
type ChallengeRepository interface {
	CreateIfNoneActive(ctx context.Context, challenge *models.OtpChallenge, now time.Time, maxAttempts int) (*models.OtpChallenge, error)
	Delete(ctx context.Context, id string) error
	GetLatest(ctx context.Context, username string) (*models.OtpChallenge, error)
	ApplyVerification(ctx context.Context, username, submittedCode string, now time.Time, maxAttempts int) (*models.ChallengeVerification, error)
	InvalidateActive(ctx context.Context, username string) error
}

// ChallengeService owns the OTP lifecycle: issue, verify, status,
// resend. Issuance is transactional across persistence and delivery; a
// code that cannot be delivered is rolled back rather than left orphaned.
type ChallengeService struct {
	challenges  ChallengeRepository
	email       EmailService
	audit       *AuditService
	codeLength  int
	expiry      time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewChallengeService(challenges ChallengeRepository, email EmailService, audit *AuditService, codeLength int, expiry time.Duration, maxAttempts int, log *slog.Logger) *ChallengeService {
	return &ChallengeService{
		challenges:  challenges,
		email:       email,
		audit:       audit,
		codeLength:  codeLength,
		expiry:      expiry,
		maxAttempts: maxAttempts,
		logger:      log,
		now:         time.Now,
	}
}

// Issue creates and delivers a new challenge for the user. If an
// unexpired, unverified challenge already exists it fails with a
// ChallengeActiveError carrying the seconds until reissue is possible.
func (s *ChallengeService) Issue(ctx context.Context, user *models.User) (*models.OtpChallenge, error) {
	code, err := auth.GenerateNumericCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generating challenge code: %w", err)
	}

	now := s.now()
	challenge := &models.OtpChallenge{
		Username:  user.Username,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}

	existing, err := s.challenges.CreateIfNoneActive(ctx, challenge, now, s.maxAttempts)
	if errors.Is(err, models.ErrChallengeAlreadyActive) {
		remaining := int(existing.ExpiresAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		return nil, &models.ChallengeActiveError{RemainingSeconds: remaining}
	}
	if err != nil {
		return nil, err
	}

	if err := s.email.SendOtpEmail(ctx, user.Email, code, user.Username, challenge.ExpiresAt); err != nil {
		// No orphaned undeliverable challenges: roll back the stored row.
		if delErr := s.challenges.Delete(ctx, challenge.ID); delErr != nil {
			s.logger.Error("failed to roll back undelivered challenge",
				slog.String("username", user.Username),
				slog.Any("error", delErr))
		}
		s.audit.LogChallengeEvent(user.Username, "issued", false, "delivery failed")
		return nil, fmt.Errorf("%w: %v", models.ErrNotifierUnavailable, err)
	}

	s.audit.LogChallengeEvent(user.Username, "issued", true, "")
	return challenge, nil
}

// Verify applies one verification attempt. Terminal conditions come back
// as sentinel errors; a plain mismatch returns the verification result
// with the remaining attempt count and no error.
func (s *ChallengeService) Verify(ctx context.Context, username, submittedCode string) (*models.ChallengeVerification, error) {
	if !validCodeFormat(submittedCode, s.codeLength) {
		return nil, models.ErrMalformedCode
	}

	verification, err := s.challenges.ApplyVerification(ctx, username, submittedCode, s.now(), s.maxAttempts)
	if err != nil {
		return nil, err
	}

	switch verification.Outcome {
	case models.ChallengeOutcomeNone:
		return nil, models.ErrNoActiveChallenge
	case models.ChallengeOutcomeExpired:
		s.audit.LogChallengeEvent(username, "expired", false, "")
		return nil, models.ErrChallengeExpired
	case models.ChallengeOutcomeExhausted:
		s.audit.LogChallengeEvent(username, "exhausted", false, "")
		return nil, models.ErrChallengeAttemptsExhausted
	case models.ChallengeOutcomeMismatch:
		s.audit.LogChallengeEvent(username, "failed", false,
			fmt.Sprintf("%d attempts remaining", verification.AttemptsRemaining))
		return verification, nil
	default:
		s.audit.LogChallengeEvent(username, "verified", true, "")
		return verification, nil
	}
}

// Status reports the user's current challenge without mutating it.
// Returns ErrNoActiveChallenge when the user has none on record.
func (s *ChallengeService) Status(ctx context.Context, username string) (*models.ChallengeStatus, error) {
	challenge, err := s.challenges.GetLatest(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNoActiveChallenge
		}
		return nil, err
	}

	now := s.now()
	remaining := int(challenge.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	attemptsRemaining := s.maxAttempts - challenge.Attempts
	if attemptsRemaining < 0 {
		attemptsRemaining = 0
	}

	return &models.ChallengeStatus{
		CreatedAt:         challenge.CreatedAt,
		ExpiresAt:         challenge.ExpiresAt,
		RemainingSeconds:  remaining,
		Attempts:          challenge.Attempts,
		AttemptsRemaining: attemptsRemaining,
		Verified:          challenge.Verified,
	}, nil
}

// Resend invalidates any outstanding challenge and issues a fresh one.
func (s *ChallengeService) Resend(ctx context.Context, user *models.User) (*models.OtpChallenge, error) {
	if err := s.challenges.InvalidateActive(ctx, user.Username); err != nil {
		return nil, err
	}
	return s.Issue(ctx, user)
}

func validCodeFormat(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
