package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertBill stores b, keyed by its source message. Amount, due date and type
// are refreshed on conflict; payment status is left alone.
func (db *DB) UpsertBill(b *Bill) error {
	_, err := db.Exec(`INSERT INTO bills (sms_id, sender, amount, due_date, bill_type, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sms_id) DO UPDATE SET
			sender = excluded.sender,
			amount = excluded.amount,
			due_date = excluded.due_date,
			bill_type = excluded.bill_type`,
		b.SMSID, b.Sender, b.Amount, b.DueDate, b.BillType, b.Notes)
	if err != nil {
		return fmt.Errorf("upsert bill: %w", err)
	}
	return nil
}

// ListBills returns bills ordered by due date. An empty status lists all.
func (db *DB) ListBills(status string) ([]Bill, error) {
	q := `SELECT id, sms_id, sender, amount, due_date, bill_type, status, COALESCE(paid_date, 0), notes FROM bills`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY due_date ASC, id ASC`

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Bill
	for rows.Next() {
		var b Bill
		if err := rows.Scan(&b.ID, &b.SMSID, &b.Sender, &b.Amount, &b.DueDate,
			&b.BillType, &b.Status, &b.PaidDate, &b.Notes); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkBillPaid sets a bill's status to paid. It returns sql.ErrNoRows when
// no bill has that id.
func (db *DB) MarkBillPaid(id int64) error {
	res, err := db.Exec(`UPDATE bills SET status = 'paid', paid_date = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bill %d: %w", id, sql.ErrNoRows)
	}
	return nil
}
