package models

import "time"

// OtpChallenge is a one-time-passcode challenge issued to a user after a
// "challenge" decision. Lifecycle: created, zero or more failed verify
// attempts, then terminal once verified, expired, or out of attempts.
// A terminal challenge is inert; a new one must be issued.
type OtpChallenge struct {
	ID        string
	Username  string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Attempts  int
	Verified  bool
}

// Expired reports whether the challenge lifetime has passed at now.
func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Exhausted reports whether the attempt budget is spent.
func (c *OtpChallenge) Exhausted(maxAttempts int) bool {
	return c.Attempts >= maxAttempts
}

// Active reports whether the challenge can still accept a verification
// attempt at now.
func (c *OtpChallenge) Active(now time.Time, maxAttempts int) bool {
	return !c.Verified && !c.Expired(now) && !c.Exhausted(maxAttempts)
}

// ChallengeOutcome is the result of applying one verification attempt.
type ChallengeOutcome int

const (
	ChallengeOutcomeNone ChallengeOutcome = iota // no unverified challenge on record
	ChallengeOutcomeVerified
	ChallengeOutcomeMismatch
	ChallengeOutcomeExpired
	ChallengeOutcomeExhausted
)

// ChallengeVerification is the atomic result of a verification attempt.
// AttemptsRemaining is only meaningful for the mismatch outcome.
type ChallengeVerification struct {
	Outcome           ChallengeOutcome
	AttemptsRemaining int
	Challenge         *OtpChallenge
}

// ChallengeStatus is the read-only view of a user's current challenge.
type ChallengeStatus struct {
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RemainingSeconds  int
	Attempts          int
	AttemptsRemaining int
	Verified          bool
}
