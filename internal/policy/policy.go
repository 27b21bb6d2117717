// Package policy decides how a backup of a given size may be processed.
//
// A full in-memory pass needs roughly four times the raw file size (raw text,
// decoded tree, per-record values and dedup overhead). Against a 256 MB heap
// that puts the safe ceiling for any single pass near 50 MB, and every
// strategy checks that ceiling on its own before reading input.
package policy

import (
	"fmt"
	"strings"
)

// MB is one mebibyte.
const MB int64 = 1 << 20

// WorkingSetFactor is the memory multiplier of a full in-memory pass.
const WorkingSetFactor = 4

// Strategy is one of the import shapes.
type Strategy string

const (
	Auto     Strategy = "auto"
	Direct   Strategy = "direct"
	Chunked  Strategy = "chunked"
	Split    Strategy = "split"
	Truncate Strategy = "truncate"
)

// ParseStrategy resolves a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Auto, Direct, Chunked, Split, Truncate:
		return st, nil
	case "":
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want auto, direct, chunked, split or truncate)", s)
	}
}

// Limits holds the size tiers, in bytes.
type Limits struct {
	DirectMax   int64 // below: direct
	ChunkedMax  int64 // below: chunked
	SplitMax    int64 // below: split, at or above: truncate
	InMemoryMax int64 // hard ceiling for any single in-memory pass
	RiskyFrom   int64 // start of the risky-but-attemptable band
}

// DefaultLimits returns the tiers used on a 256 MB heap.
func DefaultLimits() Limits {
	return Limits{
		DirectMax:   10 * MB,
		ChunkedMax:  50 * MB,
		SplitMax:    100 * MB,
		InMemoryMax: 50 * MB,
		RiskyFrom:   30 * MB,
	}
}

// Recommendation is the outcome of Recommend.
type Recommendation struct {
	Strategy          Strategy `json:"strategy"`
	Reason            string   `json:"reason"`
	SizeBytes         int64    `json:"size_bytes"`
	SizeMB            float64  `json:"size_mb"`
	EstimatedMessages int64    `json:"estimated_messages"`
}

// Recommend picks a strategy from the input size alone.
func (l Limits) Recommend(size int64) Recommendation {
	r := Recommendation{
		SizeBytes: size,
		SizeMB:    ToMB(size),
		// Backups average about 1 KB per message.
		EstimatedMessages: size / 1024,
	}
	switch {
	case size < l.DirectMax:
		r.Strategy = Direct
		r.Reason = "File is small enough for direct import"
	case size < l.ChunkedMax:
		r.Strategy = Chunked
		r.Reason = "File is medium-sized; chunked import keeps progress visible and transactions small"
	case size < l.SplitMax:
		r.Strategy = Split
		r.Reason = "File is large; split it into smaller backups and import them one by one"
	default:
		r.Strategy = Truncate
		r.Reason = "File is very large; keep only the most recent messages"
	}
	return r
}

// CheckInMemory fails with *TooLargeError when size exceeds the ceiling.
func (l Limits) CheckInMemory(op string, size int64) error {
	if size > l.InMemoryMax {
		return &TooLargeError{Op: op, Size: size, Limit: l.InMemoryMax}
	}
	return nil
}

// Risky reports whether size is inside the attemptable-but-risky band.
func (l Limits) Risky(size int64) bool {
	return size > l.RiskyFrom && size <= l.InMemoryMax
}

// ToMB converts bytes to mebibytes.
func ToMB(size int64) float64 {
	return float64(size) / float64(MB)
}
