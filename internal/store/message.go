package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const insertIfAbsent = `INSERT INTO sms (sender, body, time, thread_id, category, notified)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
ON CONFLICT(sender, body, time) DO NOTHING`

// Exists reports whether a message with this identity is already stored.
func (db *DB) Exists(sender, body string, ts int64) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM sms WHERE sender = ? AND body = ? AND time = ? LIMIT 1`,
		sender, body, ts).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

// InsertIfAbsent stores m unless its (sender, body, time) identity is taken.
// It reports whether a row was written and sets m.ID when it was.
func (db *DB) InsertIfAbsent(m *Message) (bool, error) {
	var inserted bool
	err := db.WithTx(func(tx *Tx) error {
		var err error
		inserted, err = tx.InsertIfAbsent(m)
		return err
	})
	return inserted, err
}

// Tx is a write transaction scoped to one batch of inserts.
type Tx struct {
	tx     *sql.Tx
	insert *sql.Stmt
}

// WithTx runs fn inside a transaction. Any error from fn rolls back.
func (db *DB) WithTx(fn func(*Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t := &Tx{tx: tx}
	defer func() {
		if t.insert != nil {
			_ = t.insert.Close()
		}
	}()

	if err := fn(t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertIfAbsent is the transactional form of DB.InsertIfAbsent. The check
// and the write are a single statement, so concurrent importers cannot both
// insert the same identity.
func (t *Tx) InsertIfAbsent(m *Message) (bool, error) {
	if t.insert == nil {
		stmt, err := t.tx.Prepare(insertIfAbsent)
		if err != nil {
			return false, fmt.Errorf("prepare insert: %w", err)
		}
		t.insert = stmt
	}
	res, err := t.insert.Exec(m.Sender, m.Body, m.Time, m.ThreadID, m.Category, m.Notified)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return true, nil
}

const messageColumns = `id, sender, body, time, COALESCE(thread_id, ''), category, notified`

// GetMessage returns the message with the given id, or nil.
func (db *DB) GetMessage(id int64) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM sms WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages matching f, newest first.
func (db *DB) ListMessages(f Filter) ([]Message, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Since > 0 {
		where = append(where, "time >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		where = append(where, "time < ?")
		args = append(args, f.Until)
	}

	q := `SELECT ` + messageColumns + ` FROM sms`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY time DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UnnotifiedSince returns messages newer than since that have not been
// alerted on yet, oldest first.
func (db *DB) UnnotifiedSince(since int64) ([]Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM sms
		WHERE notified = 0 AND time > ? ORDER BY time ASC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("unnotified: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MarkNotified flags the given messages as alerted.
func (db *DB) MarkNotified(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`UPDATE sms SET notified = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("mark notified %d: %w", id, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	if err := s.Scan(&m.ID, &m.Sender, &m.Body, &m.Time, &m.ThreadID, &m.Category, &m.Notified); err != nil {
		return nil, err
	}
	return &m, nil
}
