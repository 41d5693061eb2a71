package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rhoward/ztverify/internal/metrics"
	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/internal/risk"
	"golang.org/x/sync/errgroup"
)

// CredentialVerifier checks a username/secret pair and account status.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, secret string) (*models.User, error)
}

// DeviceRepository is the device trust surface.
type DeviceRepository interface {
	IsKnown(ctx context.Context, username, fingerprint string) (bool, error)
	RegisterOrTouch(ctx context.Context, username, fingerprint string) (*models.DeviceRecord, error)
	ListForUser(ctx context.Context, username string) ([]models.DeviceRecord, error)
	Remove(ctx context.Context, username, fingerprint string) error
}

// ChallengeManager is the slice of the challenge lifecycle the decision
// flow drives.
type ChallengeManager interface {
	Issue(ctx context.Context, user *models.User) (*models.OtpChallenge, error)
	Verify(ctx context.Context, username, submittedCode string) (*models.ChallengeVerification, error)
	Resend(ctx context.Context, user *models.User) (*models.OtpChallenge, error)
}

// LoginRequest is one credential-bearing login attempt.
type LoginRequest struct {
	Username          string
	Secret            string
	DeviceFingerprint string
	UserAgent         string
	SourceIP          string
	ASN               int
	DeviceType        string
	Timestamp         time.Time
}

// DecisionResult is the outcome surfaced to the transport layer.
type DecisionResult struct {
	Decision           string
	Reason             string
	RiskScore          *float64 // 0.0-1.0 at the boundary; nil for credential denials
	RiskLevel          string
	Factors            []string
	User               *models.User
	ChallengeExpiresAt *time.Time
	RetryAfterSeconds  int
}

// ChallengeCompletion is a request to finish a previously challenged
// login with the delivered code.
type ChallengeCompletion struct {
	Username          string
	Code              string
	RememberDevice    bool
	DeviceFingerprint string
	SourceIP          string
}

// CompletionResult reports an OTP verification attempt that was not a
// terminal error.
type CompletionResult struct {
	Verified          bool
	AttemptsRemaining int
	User              *models.User
}

// DecisionService is the allow/challenge/deny state machine. Transition
// rules run in order, first match wins:
//
//  1. invalid credentials or inactive account: deny
//  2. jurisdiction-forced step-up: challenge
//  3. high risk: challenge
//  4. medium risk on an unknown device: challenge
//  5. otherwise: allow
//
// Every outcome, including denials, produces exactly one audit record,
// and a failed audit write fails the whole request.
type DecisionService struct {
	credentials CredentialVerifier
	users       UserRepository
	devices     DeviceRepository
	attempts    LoginAttemptRepository
	geo         Geolocator
	geoTimeout  time.Duration
	engine      *risk.Engine
	audit       *AuditService
	challenges  ChallengeManager
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewDecisionService(
	credentials CredentialVerifier,
	users UserRepository,
	devices DeviceRepository,
	attempts LoginAttemptRepository,
	geo Geolocator,
	geoTimeout time.Duration,
	engine *risk.Engine,
	audit *AuditService,
	challenges ChallengeManager,
	m *metrics.Metrics,
	log *slog.Logger,
) *DecisionService {
	return &DecisionService{
		credentials: credentials,
		users:       users,
		devices:     devices,
		attempts:    attempts,
		geo:         geo,
		geoTimeout:  geoTimeout,
		engine:      engine,
		audit:       audit,
		challenges:  challenges,
		metrics:     m,
		logger:      log,
		now:         time.Now,
	}
}

func (s *DecisionService) Decide(ctx context.Context, req LoginRequest) (*DecisionResult, error) {
	now := req.Timestamp
	if now.IsZero() {
		now = s.now()
	}

	user, err := s.credentials.Verify(ctx, req.Username, req.Secret)
	if err != nil {
		return s.deny(ctx, req, now, err)
	}

	location, known, attempts := s.gatherSignals(ctx, req)

	asn := req.ASN
	if asn == 0 {
		asn = location.ASN
	}

	loginCtx := risk.LoginContext{
		Username:          req.Username,
		Timestamp:         now,
		SourceIP:          req.SourceIP,
		CountryCode:       location.CountryCode,
		ASN:               asn,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceType:        req.DeviceType,
	}
	if location.CountryCode != UnknownCountry {
		loginCtx.Location = location.String()
	}

	features := risk.Derive(loginCtx, known, attempts)
	assessment := s.engine.Assess(loginCtx, features)

	score := float64(assessment.Score) / 100.0
	var locPtr *string
	if loginCtx.Location != "" {
		loc := loginCtx.Location
		locPtr = &loc
	}

	attempt := &models.LoginAttempt{
		Username:          req.Username,
		AttemptTime:       now,
		SourceIP:          req.SourceIP,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          locPtr,
		RiskScore:         &score,
	}

	result := &DecisionResult{
		RiskScore: &score,
		RiskLevel: string(assessment.Level),
		Factors:   assessment.Factors,
		User:      user,
	}

	needsChallenge := assessment.RequireStepUp ||
		assessment.Level == risk.LevelHigh ||
		(assessment.Level == risk.LevelMedium && !known)

	if !needsChallenge {
		attempt.Decision = models.DecisionAllow
		attempt.Succeeded = true
		if err := s.audit.RecordDecision(ctx, attempt, location.CountryCode, string(assessment.Level)); err != nil {
			return nil, err
		}

		if _, err := s.devices.RegisterOrTouch(ctx, req.Username, req.DeviceFingerprint); err != nil {
			// The session is already granted; a failed registration only
			// means the device stays unknown for the next attempt.
			s.logger.Error("device registration failed after allow",
				slog.String("username", req.Username),
				slog.Any("error", err))
		}

		result.Decision = models.DecisionAllow
		result.Reason = "low_risk"
		return result, nil
	}

	attempt.Decision = models.DecisionChallenge
	attempt.Succeeded = false
	reason := challengeReason(assessment, known)
	attempt.FailureReason = &reason
	if err := s.audit.RecordDecision(ctx, attempt, location.CountryCode, string(assessment.Level)); err != nil {
		return nil, err
	}

	result.Decision = models.DecisionChallenge
	result.Reason = reason

	challenge, err := s.challenges.Issue(ctx, user)
	if err != nil {
		var active *models.ChallengeActiveError
		if errors.As(err, &active) {
			result.Reason = "challenge_already_active"
			result.RetryAfterSeconds = active.RemainingSeconds
			return result, nil
		}
		return nil, err
	}

	expiresAt := challenge.ExpiresAt
	result.ChallengeExpiresAt = &expiresAt
	return result, nil
}

// CompleteChallenge finishes a challenged login. On success the deferred
// allow outcome is recorded, and the device is registered only when the
// caller asked for it.
func (s *DecisionService) CompleteChallenge(ctx context.Context, req ChallengeCompletion) (*CompletionResult, error) {
	verification, err := s.challenges.Verify(ctx, req.Username, req.Code)
	if err != nil {
		return nil, err
	}

	if verification.Outcome != models.ChallengeOutcomeVerified {
		return &CompletionResult{
			Verified:          false,
			AttemptsRemaining: verification.AttemptsRemaining,
		}, nil
	}

	attempt := &models.LoginAttempt{
		Username:          req.Username,
		AttemptTime:       s.now(),
		SourceIP:          req.SourceIP,
		DeviceFingerprint: req.DeviceFingerprint,
		Decision:          models.DecisionAllow,
		Succeeded:         true,
	}
	if err := s.audit.RecordDecision(ctx, attempt, "", ""); err != nil {
		return nil, err
	}

	if req.RememberDevice && req.DeviceFingerprint != "" {
		if _, err := s.devices.RegisterOrTouch(ctx, req.Username, req.DeviceFingerprint); err != nil {
			s.logger.Error("device registration failed after challenge completion",
				slog.String("username", req.Username),
				slog.Any("error", err))
		}
	}

	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	return &CompletionResult{Verified: true, User: user}, nil
}

// deny records a credential or account-status denial. The audit row
// keeps the precise reason; the caller only ever sees
// invalid_credentials.
func (s *DecisionService) deny(ctx context.Context, req LoginRequest, now time.Time, cause error) (*DecisionResult, error) {
	if !errors.Is(cause, models.ErrInvalidCredentials) && !errors.Is(cause, models.ErrAccountNotActive) {
		return nil, cause
	}

	reason := "invalid_credentials"
	if errors.Is(cause, models.ErrAccountNotActive) {
		reason = "account_not_active"
	}

	attempt := &models.LoginAttempt{
		Username:          req.Username,
		AttemptTime:       now,
		SourceIP:          req.SourceIP,
		DeviceFingerprint: req.DeviceFingerprint,
		Decision:          models.DecisionDeny,
		Succeeded:         false,
		FailureReason:     &reason,
	}
	if err := s.audit.RecordDecision(ctx, attempt, "", ""); err != nil {
		return nil, err
	}

	return &DecisionResult{
		Decision: models.DecisionDeny,
		Reason:   "invalid_credentials",
	}, nil
}

// gatherSignals resolves geolocation and loads trust history
// concurrently. Neither failure blocks the decision: geolocation falls
// back to the unknown location and storage faults fail closed to an
// unknown device with no history.
func (s *DecisionService) gatherSignals(ctx context.Context, req LoginRequest) (*Location, bool, []models.LoginAttempt) {
	location := UnknownLocation()
	known := false
	var attempts []models.LoginAttempt

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		geoCtx, cancel := context.WithTimeout(gctx, s.geoTimeout)
		defer cancel()

		loc, err := s.geo.Lookup(geoCtx, req.SourceIP)
		if err != nil {
			s.metrics.GeoLookupFailures.Inc()
			s.logger.Warn("geolocation lookup failed, using unknown location",
				slog.String("source_ip", req.SourceIP),
				slog.Any("error", err))
			return nil
		}
		location = loc
		return nil
	})

	g.Go(func() error {
		isKnown, err := s.devices.IsKnown(gctx, req.Username, req.DeviceFingerprint)
		if err != nil {
			s.logger.Warn("device lookup failed, treating device as unknown",
				slog.String("username", req.Username),
				slog.Any("error", err))
		} else {
			known = isKnown
		}

		recent, err := s.attempts.RecentForUser(gctx, req.Username, risk.LocationHistoryWindow)
		if err != nil {
			s.logger.Warn("history lookup failed, assuming no history",
				slog.String("username", req.Username),
				slog.Any("error", err))
			return nil
		}
		attempts = recent
		return nil
	})

	_ = g.Wait()

	return location, known, attempts
}

func challengeReason(a risk.Assessment, knownDevice bool) string {
	switch {
	case a.RequireStepUp:
		return "jurisdiction_step_up"
	case a.Level == risk.LevelHigh:
		return "high_risk"
	case !knownDevice:
		return "unknown_device"
	default:
		return "elevated_risk"
	}
}

// ResendChallenge invalidates any outstanding challenge for the user and
// issues a fresh one.
func (s *DecisionService) ResendChallenge(ctx context.Context, username string) (*models.OtpChallenge, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	return s.challenges.Resend(ctx, user)
}
