package store

import (
	"database/sql"
	"fmt"
)

// GetPreference returns the stored value for key, or "" if unset.
func (db *DB) GetPreference(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference: %w", err)
	}
	return v, nil
}

// SetPreference stores value under key.
func (db *DB) SetPreference(key, value string) error {
	_, err := db.Exec(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}
