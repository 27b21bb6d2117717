// Package store persists classified messages, derived bills, purge history
// and preferences in a per-profile SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for a profile's textile.db.
type DB struct {
	*sql.DB
}

// WAL lets scans and exports read while an import writes.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
	"_synchronous":  {"NORMAL"},
}

// Open connects to the database at path, creating the file if needed. The
// schema is not touched; call Migrate before use.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &DB{conn}, nil
}
