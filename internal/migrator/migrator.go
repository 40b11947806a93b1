// Package migrator applies the SQL schema migrations with golang-migrate.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/blockedby/tgparser/internal/logger"
)

var errEmptyURL = errors.New("database URL cannot be empty")

// Migrator manages database migrations.
type Migrator struct {
	migrationsFS fs.FS
	log          *logger.Logger
}

// NewWithFS creates a new Migrator with the given filesystem.
// The fs should contain .sql migration files.
func NewWithFS(migrationsFS fs.FS) (*Migrator, error) {
	if migrationsFS == nil {
		return nil, errors.New("migrationsFS cannot be nil")
	}

	return &Migrator{
		migrationsFS: migrationsFS,
		log:          logger.Get().Component("migrator"),
	}, nil
}

// convertToPgx5URL rewrites postgres URLs to the scheme the pgx/v5 driver
// registers under.
func convertToPgx5URL(url string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(url, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return url
}

func (m *Migrator) open(databaseURL string) (*migrate.Migrate, error) {
	if databaseURL == "" {
		return nil, errEmptyURL
	}

	sourceDriver, err := iofs.New(m.migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	mg, err := migrate.NewWithSourceInstance("iofs", sourceDriver, convertToPgx5URL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mg, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(_ context.Context, databaseURL string) error {
	mg, err := m.open(databaseURL)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Debug().Msg("schema is up to date")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	if v, _, err := mg.Version(); err == nil {
		m.log.Info().Uint("version", v).Msg("migrations applied")
	}
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down(_ context.Context, databaseURL string) error {
	mg, err := m.open(databaseURL)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

// Version returns the current migration version and dirty state.
func (m *Migrator) Version(_ context.Context, databaseURL string) (version uint, dirty bool, err error) {
	mg, err := m.open(databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()

	version, dirty, err = mg.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			// no migrations have been run yet
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get version: %w", err)
	}

	return version, dirty, nil
}
