// Package database provides postgresql and sqlite connection management.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite://"

// DB wraps a postgresql connection pool and GORM instance.
// Pool is nil for sqlite databases.
type DB struct {
	Pool *pgxpool.Pool
	GORM *gorm.DB
}

// Open connects to the database named by url. URLs starting with sqlite://
// open a local sqlite file (or ":memory:"); anything else is postgres.
func Open(ctx context.Context, url string) (*DB, error) {
	if path, ok := strings.CutPrefix(url, sqlitePrefix); ok {
		return NewSQLite(path)
	}
	return New(ctx, url)
}

// New creates a new database connection pool and GORM instance.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &DB{
		Pool: pool,
		GORM: gormDB,
	}, nil
}

// NewSQLite opens a sqlite database through GORM. A single connection is
// kept so ":memory:" databases survive across queries.
func NewSQLite(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}

	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &DB{GORM: gormDB}, nil
}

// IsPostgres reports whether the database is backed by a pgx pool.
func (db *DB) IsPostgres() bool {
	return db.Pool != nil
}

// Close closes the connection pool and the GORM handle.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if sqlDB, err := db.GORM.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.Pool != nil {
		return db.Pool.Ping(ctx)
	}
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
