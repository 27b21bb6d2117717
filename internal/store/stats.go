package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/textile/internal/classify"
)

// CountAll returns the number of stored messages.
func (db *DB) CountAll() (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM sms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// CountByCategory returns the number of messages with the given label.
func (db *DB) CountByCategory(category string) (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM sms WHERE category = ?`, category).Scan(&n); err != nil {
		return 0, fmt.Errorf("count category: %w", err)
	}
	return n, nil
}

// CountOlderThan returns the number of messages received before ts.
func (db *DB) CountOlderThan(ts int64) (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM sms WHERE time < ?`, ts).Scan(&n); err != nil {
		return 0, fmt.Errorf("count older: %w", err)
	}
	return n, nil
}

// CountByCategorySince returns the number of messages with the given label
// received at or after since.
func (db *DB) CountByCategorySince(category string, since int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM sms WHERE category = ? AND time >= ?`, category, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count category since: %w", err)
	}
	return n, nil
}

// CountBillsDueBefore returns the number of unpaid bills due before ts,
// overdue ones included.
func (db *DB) CountBillsDueBefore(ts int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM bills WHERE status = 'unpaid' AND due_date < ?`, ts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bills due: %w", err)
	}
	return n, nil
}

// CategoryCounts returns the message count per label. Labels with no
// messages are absent.
func (db *DB) CategoryCounts() (map[string]int64, error) {
	rows, err := db.Query(`SELECT category, COUNT(*) FROM sms GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			cat string
			n   int64
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// TopSenders returns the senders with the most messages.
func (db *DB) TopSenders(limit int) ([]SenderCount, error) {
	rows, err := db.Query(`SELECT sender, COUNT(*) AS n FROM sms
		GROUP BY sender ORDER BY n DESC, sender ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top senders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SenderCount
	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.Sender, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan sender: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Summary aggregates counts, the top five senders and the newest timestamp.
func (db *DB) Summary() (*Summary, error) {
	s := &Summary{}
	var err error
	if s.Total, err = db.CountAll(); err != nil {
		return nil, err
	}
	if s.ByCategory, err = db.CategoryCounts(); err != nil {
		return nil, err
	}
	if s.TopSenders, err = db.TopSenders(5); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COALESCE(MAX(time), 0) FROM sms`).Scan(&s.Latest); err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM bills WHERE status = 'unpaid'`).Scan(&s.Unpaid); err != nil {
		return nil, fmt.Errorf("unpaid bills: %w", err)
	}
	return s, nil
}

// Insights counts the things worth acting on as of now: unpaid bills due
// within a week, expired OTPs and spam received since local midnight.
func (db *DB) Insights(now time.Time) (*Insights, error) {
	in := &Insights{}
	var err error
	if in.Total, err = db.CountAll(); err != nil {
		return nil, err
	}
	if in.BillsDueThisWeek, err = db.CountBillsDueBefore(now.AddDate(0, 0, 7).UnixMilli()); err != nil {
		return nil, err
	}
	if in.ExpiredOTPs, err = db.CountByCategory(string(classify.Expired)); err != nil {
		return nil, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if in.SpamToday, err = db.CountByCategorySince(string(classify.Spam), midnight.UnixMilli()); err != nil {
		return nil, err
	}
	return in, nil
}
