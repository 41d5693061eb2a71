package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rhoward/ztverify/internal/database"
	"github.com/rhoward/ztverify/internal/models"
)

// DeviceRepository is the device trust store. The (username, fingerprint)
// pair is unique; concurrent first sightings are resolved by the upsert
// rather than application-level locking.
type DeviceRepository struct {
	db *database.DB
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// IsKnown is a pure lookup with no side effects.
func (r *DeviceRepository) IsKnown(ctx context.Context, username, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_devices WHERE username = $1 AND fingerprint = $2
		)
	`

	var known bool
	err := r.db.Pool.QueryRow(ctx, query, username, fingerprint).Scan(&known)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return known, nil
}

// RegisterOrTouch upserts the pair: a new pair gets first_seen =
// last_seen = now, an existing pair only advances last_seen.
func (r *DeviceRepository) RegisterOrTouch(ctx context.Context, username, fingerprint string) (*models.DeviceRecord, error) {
	query := `
		INSERT INTO user_devices (id, username, fingerprint, first_seen, last_seen)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (username, fingerprint)
		DO UPDATE SET last_seen = NOW()
		RETURNING id, username, fingerprint, first_seen, last_seen
	`

	var device models.DeviceRecord
	err := r.db.Pool.QueryRow(ctx, query, uuid.New().String(), username, fingerprint).Scan(
		&device.ID, &device.Username, &device.Fingerprint, &device.FirstSeen, &device.LastSeen,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &device, nil
}

// ListForUser returns the user's known devices, most recently seen first.
func (r *DeviceRepository) ListForUser(ctx context.Context, username string) ([]models.DeviceRecord, error) {
	query := `
		SELECT id, username, fingerprint, first_seen, last_seen
		FROM user_devices
		WHERE username = $1
		ORDER BY last_seen DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, username)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	devices := make([]models.DeviceRecord, 0)
	for rows.Next() {
		var d models.DeviceRecord
		if err := rows.Scan(&d.ID, &d.Username, &d.Fingerprint, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return devices, nil
}

// Remove revokes trust for a single device.
func (r *DeviceRepository) Remove(ctx context.Context, username, fingerprint string) error {
	query := `DELETE FROM user_devices WHERE username = $1 AND fingerprint = $2`

	result, err := r.db.Pool.Exec(ctx, query, username, fingerprint)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
