package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors. Both map to the same user-facing response so
	// that "user not found" and "wrong password" are indistinguishable to a
	// caller probing for valid usernames; the audit log keeps them distinct.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotActive   = errors.New("account is not active")

	// Infrastructure faults. Storage faults are fail-closed: uncertain
	// device trust or history is treated as unknown, never as trusted.
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrNotifierUnavailable = errors.New("notifier unavailable")

	// OTP challenge errors
	ErrMalformedCode              = errors.New("malformed one-time code")
	ErrNoActiveChallenge          = errors.New("no active challenge")
	ErrChallengeExpired           = errors.New("challenge expired")
	ErrChallengeAttemptsExhausted = errors.New("challenge attempts exhausted")
	ErrChallengeAlreadyActive     = errors.New("challenge already active")
)

// ChallengeActiveError carries how long the existing challenge remains
// valid, so callers can tell the user when a reissue becomes possible.
// It unwraps to ErrChallengeAlreadyActive.
type ChallengeActiveError struct {
	RemainingSeconds int
}

func (e *ChallengeActiveError) Error() string {
	return fmt.Sprintf("challenge already active for another %d seconds", e.RemainingSeconds)
}

func (e *ChallengeActiveError) Unwrap() error {
	return ErrChallengeAlreadyActive
}
