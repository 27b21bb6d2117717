package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/textile/internal/policy"
	"github.com/matheus3301/textile/internal/store/migrations"
)

// Schema is the migration state of a profile database.
type Schema struct {
	Version uint
	Applied int // migrations run by this call
}

// Migrate brings the schema up to date. A database left dirty by an
// interrupted migration is reported instead of being migrated further.
func (db *DB) Migrate() (*Schema, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	before, dirty, err := version(m)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, dirtyError(before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate up from %d: %w", before, err)
	}

	after, _, err := version(m)
	if err != nil {
		return nil, err
	}
	return &Schema{Version: after, Applied: int(after - before)}, nil
}

// SchemaVersion returns the current version without migrating; zero means
// an empty database.
func (db *DB) SchemaVersion() (uint, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, err
	}
	v, dirty, err := version(m)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, dirtyError(v)
	}
	return v, nil
}

// The sqlite3 driver is bound to db's connection pool, so the migrator must
// not be closed: that would close db as well.
func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	return v, dirty, nil
}

func dirtyError(v uint) error {
	return policy.Fatal("open store", fmt.Errorf("schema version %d is dirty", v),
		"A previous upgrade was interrupted; restore the database from a copy or delete it and re-import")
}
