package repository

import (
	"context"
	"fmt"

	"github.com/blockedby/tgparser/internal/models"
)

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).First(&u, id).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := s.conn(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
