package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhoward/ztverify/internal/metrics"
	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCredentials struct {
	user *models.User
	err  error
}

func (s stubCredentials) Verify(context.Context, string, string) (*models.User, error) {
	return s.user, s.err
}

type decisionFixture struct {
	svc      *DecisionService
	recorded []*models.LoginAttempt
	issued   []*models.OtpChallenge
	touched  []string
	users    *MockUserRepository
	devices  *MockDeviceRepository
	geo      *MockGeolocator
}

func newDecisionFixture(t *testing.T, creds CredentialVerifier) *decisionFixture {
	t.Helper()

	f := &decisionFixture{}

	attempts := &MockLoginAttemptRepository{
		RecordFunc: func(_ context.Context, attempt *models.LoginAttempt) error {
			f.recorded = append(f.recorded, attempt)
			return nil
		},
	}
	f.devices = &MockDeviceRepository{
		RegisterOrTouchFunc: func(_ context.Context, username, fingerprint string) (*models.DeviceRecord, error) {
			f.touched = append(f.touched, username+"/"+fingerprint)
			now := time.Now()
			return &models.DeviceRecord{Username: username, Fingerprint: fingerprint, FirstSeen: now, LastSeen: now}, nil
		},
	}
	f.users = &MockUserRepository{
		GetByUsernameFunc: func(_ context.Context, username string) (*models.User, error) {
			u := testUser()
			u.Username = username
			return u, nil
		},
	}
	f.geo = &MockGeolocator{
		LookupFunc: func(context.Context, string) (*Location, error) {
			return &Location{City: "Dubai", CountryCode: "AE", ASN: 5384}, nil
		},
	}
	challenges := &MockChallengeManager{
		IssueFunc: func(_ context.Context, user *models.User) (*models.OtpChallenge, error) {
			ch := &models.OtpChallenge{
				ID:        "ch-1",
				Username:  user.Username,
				Code:      "123456",
				CreatedAt: time.Now(),
				ExpiresAt: time.Now().Add(5 * time.Minute),
			}
			f.issued = append(f.issued, ch)
			return ch, nil
		},
		VerifyFunc: func(_ context.Context, _, code string) (*models.ChallengeVerification, error) {
			if code == "123456" {
				return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeVerified}, nil
			}
			return &models.ChallengeVerification{Outcome: models.ChallengeOutcomeMismatch, AttemptsRemaining: 2}, nil
		},
	}

	engine := risk.NewEngine(risk.DefaultPolicy(), nil, quietLogger())
	m := metrics.New(prometheus.NewRegistry())

	f.svc = NewDecisionService(
		creds, f.users, f.devices, attempts,
		f.geo, 2*time.Second, engine,
		NewAuditService(attempts, newTestAuditService(attempts).audit, m, quietLogger()),
		challenges, m, quietLogger(),
	)
	return f
}

func trustedLogin() LoginRequest {
	return LoginRequest{
		Username:          "alice",
		Secret:            "Str0ng-Passw0rd!",
		DeviceFingerprint: "fp-chrome-120",
		UserAgent:         "Mozilla/5.0 (Macintosh)",
		SourceIP:          "94.200.10.20",
		Timestamp:         time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestDecide_InvalidCredentialsDenied(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{err: models.ErrInvalidCredentials})

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.Equal(t, "invalid_credentials", result.Reason)
	assert.Nil(t, result.RiskScore)

	require.Len(t, f.recorded, 1)
	assert.Equal(t, models.DecisionDeny, f.recorded[0].Decision)
	assert.Nil(t, f.recorded[0].RiskScore)
	assert.Empty(t, f.touched, "deny must never register a device")
}

func TestDecide_InactiveAccountLooksLikeBadCredentials(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{err: models.ErrAccountNotActive})

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, "invalid_credentials", result.Reason)
	require.Len(t, f.recorded, 1)
	require.NotNil(t, f.recorded[0].FailureReason)
	assert.Equal(t, "account_not_active", *f.recorded[0].FailureReason)
}

func TestDecide_TrustedProfileAllowed(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAllow, result.Decision)
	require.NotNil(t, result.RiskScore)
	assert.InDelta(t, 0.05, *result.RiskScore, 1e-9)
	assert.Equal(t, "low", result.RiskLevel)

	require.Len(t, f.recorded, 1)
	assert.True(t, f.recorded[0].Succeeded)
	assert.Equal(t, []string{"alice/fp-chrome-120"}, f.touched)
	assert.Empty(t, f.issued)
}

func TestDecide_HighRiskAlwaysChallenged(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{City: "Moscow", CountryCode: "RU", ASN: 12389}, nil
	}
	// Even a known device does not bypass a high score.
	f.devices.IsKnownFunc = func(context.Context, string, string) (bool, error) { return true, nil }

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionChallenge, result.Decision)
	assert.Equal(t, "high_risk", result.Reason)
	require.Len(t, f.issued, 1)
	assert.NotNil(t, result.ChallengeExpiresAt)
	assert.Empty(t, f.touched, "challenge must not register the device")
}

func TestDecide_MediumRiskUnknownDeviceChallenged(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{City: "Amman", CountryCode: "JO", ASN: 8376}, nil
	}

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionChallenge, result.Decision)
	assert.Equal(t, "unknown_device", result.Reason)
}

func TestDecide_MediumRiskKnownDeviceAllowed(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{City: "Amman", CountryCode: "JO", ASN: 8376}, nil
	}
	f.devices.IsKnownFunc = func(context.Context, string, string) (bool, error) { return true, nil }

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAllow, result.Decision)
}

func TestDecide_DeviceStoreFailureTreatsDeviceAsUnknown(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{City: "Amman", CountryCode: "JO", ASN: 8376}, nil
	}
	f.devices.IsKnownFunc = func(context.Context, string, string) (bool, error) {
		return true, models.ErrStorageUnavailable
	}

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	// A trust-store fault must not vouch for the device.
	assert.Equal(t, models.DecisionChallenge, result.Decision)
	assert.Equal(t, "unknown_device", result.Reason)
}

func TestDecide_JurisdictionForcesChallenge(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	// Perfect profile apart from the jurisdiction: known device, partner
	// country inside business hours.
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{City: "Mumbai", CountryCode: "IN", ASN: 9498}, nil
	}
	f.devices.IsKnownFunc = func(context.Context, string, string) (bool, error) { return true, nil }

	req := trustedLogin()
	req.Timestamp = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	result, err := f.svc.Decide(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionChallenge, result.Decision)
	assert.Equal(t, "jurisdiction_step_up", result.Reason)
}

func TestDecide_GeoFailureFallsBackToUnknown(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return nil, context.DeadlineExceeded
	}

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	// Unknown country scores 45: medium, unknown device, challenge.
	assert.Equal(t, models.DecisionChallenge, result.Decision)
	require.Len(t, f.recorded, 1)
	assert.Nil(t, f.recorded[0].Location)
}

func TestDecide_AuditWriteFailureFailsRequest(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})

	failing := &MockLoginAttemptRepository{
		RecordFunc: func(context.Context, *models.LoginAttempt) error {
			return models.ErrStorageUnavailable
		},
	}
	m := metrics.New(prometheus.NewRegistry())
	f.svc.audit = NewAuditService(failing, newTestAuditService(failing).audit, m, quietLogger())
	f.svc.attempts = failing

	_, err := f.svc.Decide(context.Background(), trustedLogin())
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestDecide_ActiveChallengeReportsRetry(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})
	f.geo.LookupFunc = func(context.Context, string) (*Location, error) {
		return &Location{CountryCode: "RU", ASN: 12389}, nil
	}
	f.svc.challenges = &MockChallengeManager{
		IssueFunc: func(context.Context, *models.User) (*models.OtpChallenge, error) {
			return nil, &models.ChallengeActiveError{RemainingSeconds: 120}
		},
	}

	result, err := f.svc.Decide(context.Background(), trustedLogin())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionChallenge, result.Decision)
	assert.Equal(t, "challenge_already_active", result.Reason)
	assert.Equal(t, 120, result.RetryAfterSeconds)
}

func TestCompleteChallenge_Success(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})

	result, err := f.svc.CompleteChallenge(context.Background(), ChallengeCompletion{
		Username:          "alice",
		Code:              "123456",
		RememberDevice:    true,
		DeviceFingerprint: "fp-chrome-120",
		SourceIP:          "94.200.10.20",
	})
	require.NoError(t, err)

	assert.True(t, result.Verified)
	require.NotNil(t, result.User)

	require.Len(t, f.recorded, 1)
	assert.Equal(t, models.DecisionAllow, f.recorded[0].Decision)
	assert.True(t, f.recorded[0].Succeeded)
	assert.Equal(t, []string{"alice/fp-chrome-120"}, f.touched)
}

func TestCompleteChallenge_WithoutRememberDoesNotRegister(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})

	result, err := f.svc.CompleteChallenge(context.Background(), ChallengeCompletion{
		Username:          "alice",
		Code:              "123456",
		DeviceFingerprint: "fp-chrome-120",
	})
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Empty(t, f.touched)
}

func TestCompleteChallenge_Mismatch(t *testing.T) {
	f := newDecisionFixture(t, stubCredentials{user: testUser()})

	result, err := f.svc.CompleteChallenge(context.Background(), ChallengeCompletion{
		Username: "alice",
		Code:     "654321",
	})
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, 2, result.AttemptsRemaining)
	assert.Empty(t, f.recorded, "a failed verification records no allow outcome")
}
