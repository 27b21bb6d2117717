package bills

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/store"
)

// Bill statuses.
const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
)

// Tracker keeps the bills table in step with upcoming messages.
type Tracker struct {
	db     *store.DB
	logger *zap.Logger
	loc    *time.Location
}

// NewTracker creates a tracker reading dates in the local time zone.
func NewTracker(db *store.DB, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{db: db, logger: logger, loc: time.Local}
}

// Refresh extracts a bill from every upcoming message. Existing bills keep
// their payment status. It returns the number of bills written.
func (t *Tracker) Refresh() (int, error) {
	msgs, err := t.db.ListMessages(store.Filter{Category: string(classify.Upcoming)})
	if err != nil {
		return 0, fmt.Errorf("list upcoming: %w", err)
	}
	for _, m := range msgs {
		info := Extract(m.Body, m.Sender, m.Time, t.loc)
		if err := t.db.UpsertBill(&store.Bill{
			SMSID:    m.ID,
			Sender:   m.Sender,
			Amount:   info.Amount,
			DueDate:  info.DueDate,
			BillType: info.Type,
		}); err != nil {
			return 0, err
		}
	}
	t.logger.Info("bills refreshed", zap.Int("bills", len(msgs)))
	return len(msgs), nil
}

// List returns bills with the given status, or all bills for "".
func (t *Tracker) List(status string) ([]store.Bill, error) {
	switch status {
	case "", "all":
		return t.db.ListBills("")
	case StatusUnpaid, StatusPaid:
		return t.db.ListBills(status)
	default:
		return nil, fmt.Errorf("unknown bill status %q (want unpaid, paid or all)", status)
	}
}

// Pay marks a bill as paid.
func (t *Tracker) Pay(id int64) error {
	if err := t.db.MarkBillPaid(id); err != nil {
		return err
	}
	t.logger.Info("bill paid", zap.Int64("bill_id", id))
	return nil
}
