package services

import (
	"context"

	"github.com/rhoward/ztverify/internal/models"
)

// AdminService backs the read-mostly admin dashboard: aggregate stats,
// the activity feed, risky-user ranking, and device trust management.
type AdminService struct {
	attempts LoginAttemptRepository
	devices  DeviceRepository
}

func NewAdminService(attempts LoginAttemptRepository, devices DeviceRepository) *AdminService {
	return &AdminService{attempts: attempts, devices: devices}
}

func (s *AdminService) Stats(ctx context.Context) (*models.LoginStats, error) {
	return s.attempts.Stats(ctx)
}

func (s *AdminService) RecentActivity(ctx context.Context, limit int) ([]models.LoginAttempt, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.attempts.RecentAll(ctx, limit)
}

func (s *AdminService) TopRiskyUsers(ctx context.Context, limit int) ([]models.RiskyUser, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.attempts.TopRisky(ctx, limit)
}

func (s *AdminService) UserActivity(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.attempts.RecentForUser(ctx, username, limit)
}

func (s *AdminService) UserDevices(ctx context.Context, username string) ([]models.DeviceRecord, error) {
	return s.devices.ListForUser(ctx, username)
}

// RevokeDevice removes trust so the next login from that device is
// treated as unknown.
func (s *AdminService) RevokeDevice(ctx context.Context, username, fingerprint string) error {
	return s.devices.Remove(ctx, username, fingerprint)
}
