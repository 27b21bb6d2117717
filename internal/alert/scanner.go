// Package alert finds urgent messages that have not been surfaced yet and
// flags them as notified, so each one is reported once.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/store"
)

// Defaults for NewScanner.
const (
	DefaultInterval = 12 * time.Hour
	DefaultLookback = 7 * 24 * time.Hour
)

// Urgent is one message reported by a scan. It is also the element type of
// alert.urgent event payloads.
type Urgent struct {
	ID     int64  `json:"id"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
	Time   int64  `json:"time"`
	Reason string `json:"reason"`
}

// Scanner periodically checks recent messages for urgent wording.
type Scanner struct {
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	lookback time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScanner creates a scanner. Non-positive durations take the defaults.
func NewScanner(db *store.DB, b *bus.Bus, logger *zap.Logger, interval, lookback time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		db:       db,
		bus:      b,
		logger:   logger,
		interval: interval,
		lookback: lookback,
		now:      time.Now,
	}
}

// ScanOnce reports un-notified urgent messages from the lookback window,
// publishes them as one alert.urgent event and marks them notified.
func (s *Scanner) ScanOnce(ctx context.Context) ([]Urgent, error) {
	since := s.now().Add(-s.lookback).UnixMilli()
	msgs, err := s.db.UnnotifiedSince(since)
	if err != nil {
		return nil, err
	}

	var found []Urgent
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok, reason := classify.IsUrgent(m.Body); ok {
			found = append(found, Urgent{ID: m.ID, Sender: m.Sender, Body: m.Body, Time: m.Time, Reason: reason})
		}
	}
	s.logger.Info("urgent scan finished", zap.Int("checked", len(msgs)), zap.Int("urgent", len(found)))
	if len(found) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(found))
	for i, u := range found {
		ids[i] = u.ID
	}
	if err := s.db.MarkNotified(ids...); err != nil {
		return nil, err
	}
	s.bus.Emit(bus.AlertUrgent, found)
	return found, nil
}

// Start scans immediately and then on every interval until Stop or ctx is
// done.
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-flight scan to finish.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("urgent scan failed", zap.Error(err))
	}
}
