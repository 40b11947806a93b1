package repository

import (
	"context"
	"fmt"

	"github.com/blockedby/tgparser/internal/models"
	"gorm.io/gorm"
)

// GetActiveSessionForUser returns the newest active session of a user.
func (s *Store) GetActiveSessionForUser(ctx context.Context, userID uint) (*models.TelegramSession, error) {
	var sess models.TelegramSession
	err := s.conn(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC, id DESC").
		First(&sess).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions of a user.
func (s *Store) ListSessions(ctx context.Context, userID uint) ([]models.TelegramSession, error) {
	var out []models.TelegramSession
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// CreateSession stores a session. An active session deactivates the user's
// other sessions so only one is ever used for parsing.
func (s *Store) CreateSession(ctx context.Context, sess *models.TelegramSession) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if sess.IsActive {
			if err := deactivateSessions(tx, sess.UserID); err != nil {
				return err
			}
		}
		return tx.Create(sess).Error
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// ActivateSession makes one session the user's active one.
// It reports false if the session does not belong to the user.
func (s *Store) ActivateSession(ctx context.Context, userID, id uint) (bool, error) {
	found := false
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.TelegramSession
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&sess).Error; err != nil {
			if notFound(err) {
				return nil
			}
			return err
		}
		found = true
		if err := deactivateSessions(tx, userID); err != nil {
			return err
		}
		return tx.Model(&sess).Update("is_active", true).Error
	})
	if err != nil {
		return false, fmt.Errorf("activate session: %w", err)
	}
	return found, nil
}

// DeleteSession removes a user's session. It reports whether a row was deleted.
func (s *Store) DeleteSession(ctx context.Context, userID, id uint) (bool, error) {
	res := s.conn(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.TelegramSession{})
	if res.Error != nil {
		return false, fmt.Errorf("delete session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func deactivateSessions(tx *gorm.DB, userID uint) error {
	return tx.Model(&models.TelegramSession{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
}
