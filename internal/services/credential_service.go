package services

import (
	"context"
	"errors"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/pkg/auth"
)

// UserRepository is the account lookup surface the credential and user
// services depend on.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, id string, user *models.User) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// CredentialService verifies a username/secret pair and the account's
// status. "User not found" and "wrong password" both come back as
// ErrInvalidCredentials so responses cannot be used for username
// enumeration; the audit log records the distinction separately.
type CredentialService struct {
	users UserRepository
}

func NewCredentialService(users UserRepository) *CredentialService {
	return &CredentialService{users: users}
}

func (s *CredentialService) Verify(ctx context.Context, username, secret string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePassword(user.PasswordHash, secret); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	if !user.IsActive() {
		return nil, models.ErrAccountNotActive
	}

	return user, nil
}

// AccountStatus returns the stored status without checking a secret.
func (s *CredentialService) AccountStatus(ctx context.Context, username string) (string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return user.Status, nil
}
