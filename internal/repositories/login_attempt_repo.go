package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rhoward/ztverify/internal/database"
	"github.com/rhoward/ztverify/internal/models"
)

// LoginAttemptRepository is the append-only audit store. Attempts are
// inserted once and never updated or deleted by the service.
type LoginAttemptRepository struct {
	db *database.DB
}

func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record inserts one audit row.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	query := `
		INSERT INTO login_attempts (id, username, attempt_time, source_ip, device_fingerprint, location, risk_score, decision, succeeded, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.Username,
		attempt.AttemptTime,
		attempt.SourceIP,
		attempt.DeviceFingerprint,
		attempt.Location,
		attempt.RiskScore,
		attempt.Decision,
		attempt.Succeeded,
		attempt.FailureReason,
	)

	return database.MapPostgresError(err)
}

// RecentForUser returns the user's most recent attempts, newest first.
func (r *LoginAttemptRepository) RecentForUser(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error) {
	query := `
		SELECT id, username, attempt_time, source_ip, device_fingerprint, location, risk_score, decision, succeeded, failure_reason
		FROM login_attempts
		WHERE username = $1
		ORDER BY attempt_time DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, username, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanAttemptRows(rows)
}

// RecentAll returns the most recent attempts across all users for the
// admin activity feed.
func (r *LoginAttemptRepository) RecentAll(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	query := `
		SELECT id, username, attempt_time, source_ip, device_fingerprint, location, risk_score, decision, succeeded, failure_reason
		FROM login_attempts
		ORDER BY attempt_time DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return scanAttemptRows(rows)
}

// Stats aggregates the attempt table for the admin dashboard.
func (r *LoginAttemptRepository) Stats(ctx context.Context) (*models.LoginStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE succeeded),
			COUNT(*) FILTER (WHERE NOT succeeded),
			COUNT(DISTINCT username),
			COALESCE(AVG(risk_score), 0)
		FROM login_attempts
	`

	var stats models.LoginStats
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&stats.TotalAttempts,
		&stats.SuccessfulLogins,
		&stats.FailedLogins,
		&stats.UniqueUsers,
		&stats.AvgRiskScore,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &stats, nil
}

// TopRisky returns the users with the highest average risk over their
// recorded attempts.
func (r *LoginAttemptRepository) TopRisky(ctx context.Context, limit int) ([]models.RiskyUser, error) {
	query := `
		SELECT username, COUNT(*), AVG(risk_score), MAX(attempt_time)
		FROM login_attempts
		WHERE risk_score IS NOT NULL
		GROUP BY username
		ORDER BY AVG(risk_score) DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	risky := make([]models.RiskyUser, 0)
	for rows.Next() {
		var u models.RiskyUser
		if err := rows.Scan(&u.Username, &u.AttemptCount, &u.AvgRiskScore, &u.LastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan risky user: %w", err)
		}
		risky = append(risky, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return risky, nil
}

func scanAttemptRows(rows pgx.Rows) ([]models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]models.LoginAttempt, 0)

	for rows.Next() {
		var a models.LoginAttempt
		err := rows.Scan(
			&a.ID, &a.Username, &a.AttemptTime, &a.SourceIP, &a.DeviceFingerprint,
			&a.Location, &a.RiskScore, &a.Decision, &a.Succeeded, &a.FailureReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}
