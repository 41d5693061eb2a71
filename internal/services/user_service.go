package services

import (
	"context"
	"fmt"

	"github.com/rhoward/ztverify/internal/models"
	"github.com/rhoward/ztverify/pkg/auth"
)

// UserService manages accounts for the admin surface.
type UserService struct {
	users UserRepository
}

func NewUserService(users UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Create(ctx context.Context, username, email, password, role string) (*models.User, error) {
	if role != "" && !models.ValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role %q", models.ErrBadRequest, role)
	}

	if err := auth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	return s.users.Create(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// Update changes the mutable account fields. Empty fields keep their
// stored value.
func (s *UserService) Update(ctx context.Context, id, email, role, status string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if email != "" {
		user.Email = email
	}
	if role != "" {
		if !models.ValidRole(role) {
			return nil, fmt.Errorf("%w: invalid role %q", models.ErrBadRequest, role)
		}
		user.Role = role
	}
	if status != "" {
		if !models.ValidStatus(status) {
			return nil, fmt.Errorf("%w: invalid status %q", models.ErrBadRequest, status)
		}
		user.Status = status
	}

	return s.users.Update(ctx, id, user)
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}
