package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rhoward/ztverify/internal/database"
	"github.com/rhoward/ztverify/internal/models"
)

// ChallengeRepository stores OTP challenges. Mutations that depend on a
// prior read (issuance gating, attempt increments, verification) run in
// a transaction holding a row lock on the user's latest challenge, so
// concurrent calls for the same username serialize at the database.
type ChallengeRepository struct {
	db *database.DB
}

func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

const latestChallengeForUpdate = `
	SELECT id, username, code, created_at, expires_at, attempts, verified
	FROM otp_challenges
	WHERE username = $1
	ORDER BY created_at DESC
	LIMIT 1
	FOR UPDATE
`

func scanChallenge(row pgx.Row) (*models.OtpChallenge, error) {
	var c models.OtpChallenge
	err := row.Scan(&c.ID, &c.Username, &c.Code, &c.CreatedAt, &c.ExpiresAt, &c.Attempts, &c.Verified)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// CreateIfNoneActive inserts the challenge unless the user already has an
// unverified, unexpired one. In that case it returns the existing
// challenge together with ErrChallengeAlreadyActive so the caller can
// report remaining seconds.
func (r *ChallengeRepository) CreateIfNoneActive(ctx context.Context, challenge *models.OtpChallenge, now time.Time, maxAttempts int) (*models.OtpChallenge, error) {
	if challenge.ID == "" {
		challenge.ID = uuid.New().String()
	}

	var existing *models.OtpChallenge

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		latest, err := scanChallenge(tx.QueryRow(ctx, latestChallengeForUpdate, challenge.Username))
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}

		if latest != nil && latest.Active(now, maxAttempts) {
			existing = latest
			return models.ErrChallengeAlreadyActive
		}

		insert := `
			INSERT INTO otp_challenges (id, username, code, created_at, expires_at, attempts, verified)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.Exec(ctx, insert,
			challenge.ID, challenge.Username, challenge.Code,
			challenge.CreatedAt, challenge.ExpiresAt, challenge.Attempts, challenge.Verified,
		)
		return database.MapPostgresError(err)
	})

	if errors.Is(err, models.ErrChallengeAlreadyActive) {
		return existing, err
	}
	return nil, err
}

// Delete removes a challenge by id. Used to roll back issuance when code
// delivery fails.
func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM otp_challenges WHERE id = $1`, id)
	return database.MapPostgresError(err)
}

// GetLatest returns the user's most recent challenge without locking.
func (r *ChallengeRepository) GetLatest(ctx context.Context, username string) (*models.OtpChallenge, error) {
	query := `
		SELECT id, username, code, created_at, expires_at, attempts, verified
		FROM otp_challenges
		WHERE username = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanChallenge(r.db.Pool.QueryRow(ctx, query, username))
}

// ApplyVerification applies one verification attempt against the user's
// latest challenge as a single atomic operation. The row lock guarantees
// two concurrent calls cannot both pass the attempt cap.
func (r *ChallengeRepository) ApplyVerification(ctx context.Context, username, submittedCode string, now time.Time, maxAttempts int) (*models.ChallengeVerification, error) {
	var result models.ChallengeVerification

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		challenge, err := scanChallenge(tx.QueryRow(ctx, latestChallengeForUpdate, username))
		if errors.Is(err, models.ErrNotFound) {
			result.Outcome = models.ChallengeOutcomeNone
			return nil
		}
		if err != nil {
			return err
		}

		result.Challenge = challenge

		switch {
		case challenge.Verified:
			// Single-use: a verified challenge never matches again.
			result.Outcome = models.ChallengeOutcomeNone
			return nil
		case challenge.Expired(now):
			result.Outcome = models.ChallengeOutcomeExpired
			return nil
		case challenge.Exhausted(maxAttempts):
			result.Outcome = models.ChallengeOutcomeExhausted
			return nil
		}

		if challenge.Code == submittedCode {
			_, err = tx.Exec(ctx, `UPDATE otp_challenges SET verified = true WHERE id = $1`, challenge.ID)
			if err != nil {
				return database.MapPostgresError(err)
			}
			challenge.Verified = true
			result.Outcome = models.ChallengeOutcomeVerified
			return nil
		}

		_, err = tx.Exec(ctx, `UPDATE otp_challenges SET attempts = attempts + 1 WHERE id = $1`, challenge.ID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		challenge.Attempts++
		result.Outcome = models.ChallengeOutcomeMismatch
		result.AttemptsRemaining = maxAttempts - challenge.Attempts
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &result, nil
}

// InvalidateActive removes any unverified challenges for the user,
// allowing an immediate reissue.
func (r *ChallengeRepository) InvalidateActive(ctx context.Context, username string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM otp_challenges WHERE username = $1 AND verified = false`, username)
	return database.MapPostgresError(err)
}
