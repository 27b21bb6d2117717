package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Action types recorded in the history table.
const (
	ActionDeleteCategory = "delete_category"
	ActionDeleteOlder    = "delete_older"
	ActionDeleteAll      = "delete_all"
	ActionDeleteIDs      = "delete_ids"
	ActionImport         = "import"
)

// DeleteByCategory removes every message with the given label.
func (db *DB) DeleteByCategory(category string) (int64, error) {
	return db.purge(ActionDeleteCategory, "category="+category,
		`DELETE FROM sms WHERE category = ?`, category)
}

// DeleteOlderThan removes messages received before ts.
func (db *DB) DeleteOlderThan(ts int64) (int64, error) {
	return db.purge(ActionDeleteOlder, fmt.Sprintf("before=%d", ts),
		`DELETE FROM sms WHERE time < ?`, ts)
}

// DeleteAll empties the message and bill tables.
func (db *DB) DeleteAll() (int64, error) {
	var n int64
	err := db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM sms`)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		n, _ = res.RowsAffected()
		if _, err := tx.Exec(`DELETE FROM bills`); err != nil {
			return fmt.Errorf("delete bills: %w", err)
		}
		return recordAction(tx, ActionDeleteAll, n, "messages and bills")
	})
	return n, err
}

// DeleteIDs removes the listed messages.
func (db *DB) DeleteIDs(ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return db.purge(ActionDeleteIDs, fmt.Sprintf("ids=%d", len(ids)),
		`DELETE FROM sms WHERE id IN (`+marks+`)`, args...)
}

// RecordAction appends an entry to the history outside of any purge.
func (db *DB) RecordAction(actionType string, items int64, details string) error {
	return db.inTx(func(tx *sql.Tx) error {
		return recordAction(tx, actionType, items, details)
	})
}

// ListActions returns the most recent history entries, newest first.
func (db *DB) ListActions(limit int) ([]Action, error) {
	rows, err := db.Query(`SELECT id, action_type, items_affected, timestamp, details
		FROM action_history ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Type, &a.ItemsAffected, &a.Timestamp, &a.Details); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) purge(actionType, details, query string, args ...any) (int64, error) {
	var n int64
	err := db.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", actionType, err)
		}
		n, _ = res.RowsAffected()
		return recordAction(tx, actionType, n, details)
	})
	return n, err
}

func (db *DB) inTx(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func recordAction(tx *sql.Tx, actionType string, items int64, details string) error {
	_, err := tx.Exec(`INSERT INTO action_history (action_type, items_affected, timestamp, details)
		VALUES (?, ?, ?, ?)`, actionType, items, time.Now().UnixMilli(), details)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}
