// Package db persists the flight log: one row per session, per-tick samples
// and every issued stick command.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("DB")

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

// pragmas applied to every connection the pool opens.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens (or creates) the database at path and migrates it to the
// latest schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer keeps the pragmas and WAL state on one connection
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(migrationsFS); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}
