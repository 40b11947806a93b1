// Package repository is the persistence store of the parser service.
package repository

import (
	"context"
	"errors"

	"github.com/blockedby/tgparser/internal/models"
	"gorm.io/gorm"
)

// memberBatchSize bounds a single INSERT when bulk-creating members.
const memberBatchSize = 500

// Store wraps a gorm handle. Lookups return (nil, nil) when nothing matches.
type Store struct {
	db *gorm.DB
}

// New creates a store on top of an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the tables for all models. Production schemas come from
// the SQL migrations; this is used for SQLite-backed tests and local runs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.TelegramSession{},
		&models.Group{},
		&models.Member{},
		&models.Post{},
		&models.Comment{},
	)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
