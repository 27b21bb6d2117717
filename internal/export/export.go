// Package export writes the message store as CSV, JSON or a plain-text
// summary.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/store"
)

// Format names an export shape.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	Summary Format = "summary"
)

// ParseFormat resolves a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, JSON, Summary:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, json or summary)", s)
	}
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == Summary {
		return "txt"
	}
	return string(f)
}

// FileName returns the default output name for an export made on day.
func FileName(f Format, day time.Time) string {
	return fmt.Sprintf("textile_sms_export_%s.%s", day.Format(time.DateOnly), f.Ext())
}

// Exporter reads from a store and writes one format.
type Exporter struct {
	db  *store.DB
	loc *time.Location
}

// New creates an exporter that renders times in the local zone.
func New(db *store.DB) *Exporter {
	return &Exporter{db: db, loc: time.Local}
}

// Write exports every message in format f, newest first. It returns the
// number of messages written.
func (e *Exporter) Write(w io.Writer, f Format) (int, error) {
	if f == Summary {
		s, err := e.db.Summary()
		if err != nil {
			return 0, err
		}
		return int(s.Total), WriteSummary(w, s, e.loc)
	}

	msgs, err := e.db.ListMessages(store.Filter{})
	if err != nil {
		return 0, err
	}
	switch f {
	case CSV:
		return len(msgs), WriteCSV(w, msgs, e.loc)
	case JSON:
		return len(msgs), WriteJSON(w, msgs)
	default:
		return 0, fmt.Errorf("unknown export format %q", f)
	}
}

var csvHeader = []string{"Category", "Sender", "Body", "Time", "Thread ID"}

// WriteCSV writes msgs with a header row.
func WriteCSV(w io.Writer, msgs []store.Message, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, m := range msgs {
		row := []string{
			m.Category,
			m.Sender,
			m.Body,
			time.UnixMilli(m.Time).In(loc).Format(time.DateTime),
			m.ThreadID,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonMessage struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Sender   string `json:"sender"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
	ThreadID string `json:"thread_id,omitempty"`
	Notified bool   `json:"notified"`
}

// WriteJSON writes msgs as an indented JSON array.
func WriteJSON(w io.Writer, msgs []store.Message) error {
	out := make([]jsonMessage, len(msgs))
	for i, m := range msgs {
		out[i] = jsonMessage{
			ID:       m.ID,
			Category: m.Category,
			Sender:   m.Sender,
			Body:     m.Body,
			Time:     m.Time,
			ThreadID: m.ThreadID,
			Notified: m.Notified,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteSummary writes a human-readable overview of s.
func WriteSummary(w io.Writer, s *store.Summary, loc *time.Location) error {
	var sb strings.Builder
	sb.WriteString("Textile SMS Export\n\n")
	fmt.Fprintf(&sb, "Total Messages: %d\n\nCategories:\n", s.Total)
	for _, c := range classify.All() {
		fmt.Fprintf(&sb, "  %-9s %d\n", title(c)+":", s.ByCategory[string(c)])
	}
	if len(s.TopSenders) > 0 {
		sb.WriteString("\nTop Senders:\n")
		for _, sc := range s.TopSenders {
			fmt.Fprintf(&sb, "  %s: %d\n", sc.Sender, sc.Count)
		}
	}
	if s.Latest > 0 {
		fmt.Fprintf(&sb, "\nLatest Message: %s\n", time.UnixMilli(s.Latest).In(loc).Format(time.DateTime))
	}
	if s.Unpaid > 0 {
		fmt.Fprintf(&sb, "Unpaid Bills: %d\n", s.Unpaid)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func title(c classify.Category) string {
	s := string(c)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
