package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/services"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
)

// DecisionServiceInterface is the login decision surface consumed by the
// HTTP layer.
type DecisionServiceInterface interface {
	Decide(ctx context.Context, req services.LoginRequest) (*services.DecisionResult, error)
	CompleteChallenge(ctx context.Context, req services.ChallengeCompletion) (*services.CompletionResult, error)
	ResendChallenge(ctx context.Context, username string) (*models.OtpChallenge, error)
}

// ChallengeStatusProvider reports the state of a user's current challenge.
type ChallengeStatusProvider interface {
	Status(ctx context.Context, username string) (*models.ChallengeStatus, error)
}

// TokenIssuer mints session tokens once a login is allowed.
type TokenIssuer interface {
	GenerateAccessToken(user *models.User) (string, error)
	GenerateRefreshToken(user *models.User) (string, error)
}

// AuthHandler handles the login and OTP endpoints
type AuthHandler struct {
	decisions  DecisionServiceInterface
	status     ChallengeStatusProvider
	tokens     TokenIssuer
	ipConfig   *pkghttp.IPConfig
	codeLength int
}

func NewAuthHandler(decisions DecisionServiceInterface, status ChallengeStatusProvider, tokens TokenIssuer, ipConfig *pkghttp.IPConfig, codeLength int) *AuthHandler {
	return &AuthHandler{
		decisions:  decisions,
		status:     status,
		tokens:     tokens,
		ipConfig:   ipConfig,
		codeLength: codeLength,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username          string `json:"username" validate:"required,min=1,max=64"`
	Password          string `json:"password" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required,max=256"`
	DeviceType        string `json:"device_type" validate:"omitempty,oneof=desktop mobile tablet"`
	ASN               int    `json:"asn" validate:"omitempty,gte=0"`
}

// VerifyOTPRequest represents the request body for OTP verification
type VerifyOTPRequest struct {
	Username          string `json:"username" validate:"required,min=1,max=64"`
	Code              string `json:"code" validate:"required"`
	RememberDevice    bool   `json:"remember_device"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"omitempty,max=256"`
}

// ResendOTPRequest represents the request body for resending a code
type ResendOTPRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
}

// Response DTOs

// LoginResponse carries the decision and, on allow, the session tokens
type LoginResponse struct {
	Decision           string     `json:"decision"`
	Reason             string     `json:"reason,omitempty"`
	RiskScore          *float64   `json:"risk_score,omitempty"`
	RiskLevel          string     `json:"risk_level,omitempty"`
	AccessToken        string     `json:"access_token,omitempty"`
	RefreshToken       string     `json:"refresh_token,omitempty"`
	ChallengeExpiresAt *time.Time `json:"challenge_expires_at,omitempty"`
	RetryAfterSeconds  int        `json:"retry_after_seconds,omitempty"`
}

// VerifyOTPResponse reports a verification attempt
type VerifyOTPResponse struct {
	Verified          bool   `json:"verified"`
	AttemptsRemaining int    `json:"attempts_remaining,omitempty"`
	AccessToken       string `json:"access_token,omitempty"`
	RefreshToken      string `json:"refresh_token,omitempty"`
}

// OTPStatusResponse is the read-only view of the current challenge
type OTPStatusResponse struct {
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	RemainingSeconds  int       `json:"remaining_seconds"`
	Attempts          int       `json:"attempts"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Verified          bool      `json:"verified"`
}

// Login runs the risk-adaptive decision for a credential login.
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	result, err := h.decisions.Decide(r.Context(), services.LoginRequest{
		Username:          req.Username,
		Secret:            req.Password,
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceType:        req.DeviceType,
		ASN:               req.ASN,
		UserAgent:         r.Header.Get("User-Agent"),
		SourceIP:          pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := LoginResponse{
		Decision:           result.Decision,
		Reason:             result.Reason,
		RiskScore:          result.RiskScore,
		RiskLevel:          result.RiskLevel,
		ChallengeExpiresAt: result.ChallengeExpiresAt,
		RetryAfterSeconds:  result.RetryAfterSeconds,
	}

	switch result.Decision {
	case models.DecisionAllow:
		access, err := h.tokens.GenerateAccessToken(result.User)
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		refresh, err := h.tokens.GenerateRefreshToken(result.User)
		if err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
		resp.AccessToken = access
		resp.RefreshToken = refresh
		pkghttp.WriteJSON(w, http.StatusOK, resp)
	case models.DecisionChallenge:
		pkghttp.WriteJSON(w, http.StatusAccepted, resp)
	default:
		pkghttp.WriteJSON(w, http.StatusUnauthorized, resp)
	}
}

// VerifyOTP completes a challenged login with the emailed code.
// POST /auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	result, err := h.decisions.CompleteChallenge(r.Context(), services.ChallengeCompletion{
		Username:          req.Username,
		Code:              req.Code,
		RememberDevice:    req.RememberDevice,
		DeviceFingerprint: req.DeviceFingerprint,
		SourceIP:          pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		h.writeChallengeError(w, err)
		return
	}

	resp := VerifyOTPResponse{
		Verified:          result.Verified,
		AttemptsRemaining: result.AttemptsRemaining,
	}

	if !result.Verified {
		pkghttp.WriteJSON(w, http.StatusUnauthorized, resp)
		return
	}

	access, err := h.tokens.GenerateAccessToken(result.User)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	refresh, err := h.tokens.GenerateRefreshToken(result.User)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	resp.AccessToken = access
	resp.RefreshToken = refresh

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResendOTP invalidates the outstanding challenge and issues a new code.
// POST /auth/otp/resend
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	challenge, err := h.decisions.ResendChallenge(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Same shape as a successful resend for a user that exists;
			// resend must not confirm account existence.
			pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
				"message": "If a challenge was pending, a new code has been sent.",
			})
			return
		}
		h.writeChallengeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]any{
		"message":    "If a challenge was pending, a new code has been sent.",
		"expires_at": challenge.ExpiresAt,
	})
}

// OTPStatus reports the caller's current challenge without mutating it.
// GET /auth/otp/status?username=...
func (h *AuthHandler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))
	if username == "" {
		pkghttp.WriteBadRequest(w, "username query parameter is required")
		return
	}

	status, err := h.status.Status(r.Context(), username)
	if err != nil {
		h.writeChallengeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, OTPStatusResponse{
		CreatedAt:         status.CreatedAt,
		ExpiresAt:         status.ExpiresAt,
		RemainingSeconds:  status.RemainingSeconds,
		Attempts:          status.Attempts,
		AttemptsRemaining: status.AttemptsRemaining,
		Verified:          status.Verified,
	})
}

// writeChallengeError maps challenge lifecycle errors onto responses.
// These are specific and actionable: unlike credential errors they never
// reveal whether an account exists.
func (h *AuthHandler) writeChallengeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMalformedCode):
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_code",
			fmt.Sprintf("The code must be exactly %d digits", h.codeLength))
	case errors.Is(err, models.ErrNoActiveChallenge):
		pkghttp.WriteError(w, http.StatusNotFound, "no_active_challenge", "No active challenge for this user")
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteError(w, http.StatusGone, "challenge_expired", "The code has expired, request a new one")
	case errors.Is(err, models.ErrChallengeAttemptsExhausted):
		pkghttp.WriteError(w, http.StatusForbidden, "attempts_exhausted", "Too many incorrect codes, request a new one")
	case errors.Is(err, models.ErrChallengeAlreadyActive):
		var active *models.ChallengeActiveError
		if errors.As(err, &active) {
			pkghttp.WriteErrorWithDetails(w, http.StatusConflict, "challenge_already_active",
				"A code was already sent recently", active.Error())
			return
		}
		pkghttp.WriteConflict(w, "A code was already sent recently")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
