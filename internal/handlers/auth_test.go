package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/services"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
)

type mockDecisions struct {
	DecideFunc            func(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error)
	CompleteChallengeFunc func(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error)
	ResendChallengeFunc   func(ctx context.Context, username string) (*models.OtpChallenge, error)
}

func (m *mockDecisions) Decide(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error) {
	return m.DecideFunc(ctx, req)
}

func (m *mockDecisions) CompleteChallenge(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error) {
	return m.CompleteChallengeFunc(ctx, req)
}

func (m *mockDecisions) ResendChallenge(ctx context.Context, username string) (*models.OtpChallenge, error) {
	return m.ResendChallengeFunc(ctx, username)
}

type mockStatus struct {
	StatusFunc func(ctx context.Context, username string) (*models.ChallengeStatus, error)
}

func (m *mockStatus) Status(ctx context.Context, username string) (*models.ChallengeStatus, error) {
	return m.StatusFunc(ctx, username)
}

type mockTokens struct{}

func (m *mockTokens) GenerateAccessToken(user *models.User) (string, error) {
	return "access-token", nil
}

func (m *mockTokens) GenerateRefreshToken(user *models.User) (string, error) {
	return "refresh-token", nil
}

func newAuthHandler(decisions *mockDecisions, status *mockStatus) *AuthHandler {
	return NewAuthHandler(decisions, status, &mockTokens{}, &pkghttp.IPConfig{}, 6)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLogin_Allowed(t *testing.T) {
	score := 0.05
	decisions := &mockDecisions{
		DecideFunc: func(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error) {
			assert.Equal(t, "alice", req.Username)
			assert.Equal(t, "fp-1", req.DeviceFingerprint)
			return &services.DecisionResult{
				Decision:  models.DecisionAllow,
				RiskScore: &score,
				RiskLevel: "low",
				User:      &models.User{ID: "u1", Username: "alice"},
			}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.Login, "/auth/login", LoginRequest{
		Username:          "Alice",
		Password:          "correct horse",
		DeviceFingerprint: "fp-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.DecisionAllow, resp.Decision)
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "refresh-token", resp.RefreshToken)
	require.NotNil(t, resp.RiskScore)
	assert.InDelta(t, 0.05, *resp.RiskScore, 1e-9)
}

func TestLogin_Challenged(t *testing.T) {
	score := 0.8
	expires := time.Now().Add(5 * time.Minute).UTC()
	decisions := &mockDecisions{
		DecideFunc: func(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error) {
			return &services.DecisionResult{
				Decision:           models.DecisionChallenge,
				Reason:             "high_risk",
				RiskScore:          &score,
				RiskLevel:          "high",
				ChallengeExpiresAt: &expires,
			}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.Login, "/auth/login", LoginRequest{
		Username:          "alice",
		Password:          "correct horse",
		DeviceFingerprint: "fp-1",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.DecisionChallenge, resp.Decision)
	assert.Equal(t, "high_risk", resp.Reason)
	assert.Empty(t, resp.AccessToken)
	require.NotNil(t, resp.ChallengeExpiresAt)
}

func TestLogin_Denied(t *testing.T) {
	decisions := &mockDecisions{
		DecideFunc: func(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error) {
			return &services.DecisionResult{
				Decision: models.DecisionDeny,
				Reason:   "invalid_credentials",
			}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.Login, "/auth/login", LoginRequest{
		Username:          "alice",
		Password:          "wrong",
		DeviceFingerprint: "fp-1",
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.DecisionDeny, resp.Decision)
	assert.Equal(t, "invalid_credentials", resp.Reason)
	assert.Nil(t, resp.RiskScore)
	assert.Empty(t, resp.AccessToken)
}

func TestLogin_MissingFields(t *testing.T) {
	handler := newAuthHandler(&mockDecisions{}, nil)

	rec := postJSON(t, handler.Login, "/auth/login", LoginRequest{
		Username: "alice",
		// no password, no fingerprint
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_InvalidBody(t *testing.T) {
	handler := newAuthHandler(&mockDecisions{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.Login(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyOTP_Success(t *testing.T) {
	decisions := &mockDecisions{
		CompleteChallengeFunc: func(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error) {
			assert.Equal(t, "alice", req.Username)
			assert.Equal(t, "123456", req.Code)
			assert.True(t, req.RememberDevice)
			return &services.CompletionResult{
				Verified: true,
				User:     &models.User{ID: "u1", Username: "alice"},
			}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.VerifyOTP, "/auth/otp/verify", VerifyOTPRequest{
		Username:          "alice",
		Code:              "123456",
		RememberDevice:    true,
		DeviceFingerprint: "fp-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, "access-token", resp.AccessToken)
}

func TestVerifyOTP_Mismatch(t *testing.T) {
	decisions := &mockDecisions{
		CompleteChallengeFunc: func(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error) {
			return &services.CompletionResult{Verified: false, AttemptsRemaining: 2}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.VerifyOTP, "/auth/otp/verify", VerifyOTPRequest{
		Username: "alice",
		Code:     "000000",
	})

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
	assert.Equal(t, 2, resp.AttemptsRemaining)
	assert.Empty(t, resp.AccessToken)
}

func TestVerifyOTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed code", models.ErrMalformedCode, http.StatusBadRequest, "malformed_code"},
		{"no active challenge", models.ErrNoActiveChallenge, http.StatusNotFound, "no_active_challenge"},
		{"expired", models.ErrChallengeExpired, http.StatusGone, "challenge_expired"},
		{"exhausted", models.ErrChallengeAttemptsExhausted, http.StatusForbidden, "attempts_exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions := &mockDecisions{
				CompleteChallengeFunc: func(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error) {
					return nil, tt.err
				},
			}
			handler := newAuthHandler(decisions, nil)

			rec := postJSON(t, handler.VerifyOTP, "/auth/otp/verify", VerifyOTPRequest{
				Username: "alice",
				Code:     "123456",
			})

			require.Equal(t, tt.wantStatus, rec.Code)

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

func TestVerifyOTP_MalformedMessageTracksConfiguredLength(t *testing.T) {
	decisions := &mockDecisions{
		CompleteChallengeFunc: func(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error) {
			return nil, models.ErrMalformedCode
		},
	}
	handler := NewAuthHandler(decisions, nil, &mockTokens{}, &pkghttp.IPConfig{}, 8)

	rec := postJSON(t, handler.VerifyOTP, "/auth/otp/verify", VerifyOTPRequest{
		Username: "alice",
		Code:     "1234",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "malformed_code", resp.Error)
	assert.Contains(t, resp.Message, "8 digits")
}

func TestResendOTP_UnknownUserLooksLikeSuccess(t *testing.T) {
	decisions := &mockDecisions{
		ResendChallengeFunc: func(ctx context.Context, username string) (*models.OtpChallenge, error) {
			return nil, models.ErrNotFound
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.ResendOTP, "/auth/otp/resend", ResendOTPRequest{Username: "ghost"})

	// Resend must not reveal whether the account exists
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResendOTP_Issued(t *testing.T) {
	expires := time.Now().Add(5 * time.Minute).UTC()
	decisions := &mockDecisions{
		ResendChallengeFunc: func(ctx context.Context, username string) (*models.OtpChallenge, error) {
			assert.Equal(t, "alice", username)
			return &models.OtpChallenge{Username: "alice", ExpiresAt: expires}, nil
		},
	}
	handler := newAuthHandler(decisions, nil)

	rec := postJSON(t, handler.ResendOTP, "/auth/otp/resend", ResendOTPRequest{Username: "alice"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestOTPStatus(t *testing.T) {
	now := time.Now().UTC()
	status := &mockStatus{
		StatusFunc: func(ctx context.Context, username string) (*models.ChallengeStatus, error) {
			assert.Equal(t, "alice", username)
			return &models.ChallengeStatus{
				CreatedAt:         now,
				ExpiresAt:         now.Add(4 * time.Minute),
				RemainingSeconds:  240,
				Attempts:          1,
				AttemptsRemaining: 2,
			}, nil
		},
	}
	handler := newAuthHandler(&mockDecisions{}, status)

	req := httptest.NewRequest(http.MethodGet, "/auth/otp/status?username=Alice", nil)
	rec := httptest.NewRecorder()
	handler.OTPStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp OTPStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 240, resp.RemainingSeconds)
	assert.Equal(t, 2, resp.AttemptsRemaining)
	assert.False(t, resp.Verified)
}

func TestOTPStatus_MissingUsername(t *testing.T) {
	handler := newAuthHandler(&mockDecisions{}, &mockStatus{})

	req := httptest.NewRequest(http.MethodGet, "/auth/otp/status", nil)
	rec := httptest.NewRecorder()
	handler.OTPStatus(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOTPStatus_NoChallenge(t *testing.T) {
	status := &mockStatus{
		StatusFunc: func(ctx context.Context, username string) (*models.ChallengeStatus, error) {
			return nil, models.ErrNoActiveChallenge
		},
	}
	handler := newAuthHandler(&mockDecisions{}, status)

	req := httptest.NewRequest(http.MethodGet, "/auth/otp/status?username=alice", nil)
	rec := httptest.NewRecorder()
	handler.OTPStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
