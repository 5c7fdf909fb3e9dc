package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateUp runs all pending migrations. No pending migrations is not an
// error.
func (db *DB) MigrateUp(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version; 0 before any migration.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// SchemaVersion is MigrateVersion against the embedded migrations.
func (db *DB) SchemaVersion() (uint, bool, error) {
	return db.MigrateVersion(migrationsFS)
}

func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }
