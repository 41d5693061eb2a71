package models

import "time"

// Decision values recorded on a login attempt.
const (
	DecisionAllow     = "allow"
	DecisionDeny      = "deny"
	DecisionChallenge = "challenge"
	DecisionReview    = "review"
)

// LoginAttempt is the append-only audit record for a single login attempt.
// Rows are immutable once written; retention is an external policy and the
// core never updates or deletes them.
type LoginAttempt struct {
	ID                string
	Username          string
	AttemptTime       time.Time
	SourceIP          string
	DeviceFingerprint string
	Location          *string  // nil when geolocation was unavailable
	RiskScore         *float64 // 0.0-1.0 at the persistence boundary; nil for credential denials
	Decision          string   // "allow", "deny", "challenge", "review"
	Succeeded         bool
	FailureReason     *string // internal detail, never surfaced to callers
}

// LoginStats aggregates attempt counts for the admin dashboard.
type LoginStats struct {
	TotalAttempts    int
	SuccessfulLogins int
	FailedLogins     int
	UniqueUsers      int
	AvgRiskScore     float64
}

// RiskyUser summarizes a user's recent risk profile.
type RiskyUser struct {
	Username     string
	AttemptCount int
	AvgRiskScore float64
	LastAttempt  time.Time
}
