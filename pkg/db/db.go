package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/thannaske/s3sizer/pkg/db/migrations"
	"github.com/thannaske/s3sizer/pkg/logging"
)

// DefaultPageSize is the number of history rows returned per Search page.
const DefaultPageSize = 100

// DB represents the database connection. It implements both store.History
// and store.TimeSeries.
type DB struct {
	*sql.DB
	pageSize int
	now      func() time.Time
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return Wrap(db), nil
}

// Wrap uses an existing connection.
func Wrap(db *sql.DB) *DB {
	return &DB{DB: db, pageSize: DefaultPageSize, now: time.Now}
}

// SetPageSize sets the number of history rows per Search page.
func (db *DB) SetPageSize(n int) {
	if n > 0 {
		db.pageSize = n
	}
}

// SetClock replaces time.Now.
func (db *DB) SetClock(now func() time.Time) { db.now = now }

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	log := logging.L()

	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		log.Warn().Uint("version", version).Msg("database is in dirty state; forcing current version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to recover dirty migration state at version %d: %w", version, err)
		}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Uint("version", version).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get updated migration version: %w", err)
	}
	log.Info().Uint("from_version", version).Uint("to_version", newVersion).Msg("database migrations completed")
	return nil
}
