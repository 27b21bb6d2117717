// Package rewrite turns one oversized backup into smaller ones, either by
// splitting it into equal parts or by keeping only its most recent messages.
// Fragments are copied byte for byte; attributes are never re-serialized.
package rewrite

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/backup"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/policy"
)

// Defaults for the CLI flags.
const (
	DefaultPerFile = 5000
	DefaultKeep    = 10000
)

// Split partitions frags into groups of perFile, preserving order. The last
// group may be shorter.
func Split(frags []backup.Fragment, perFile int) [][]backup.Fragment {
	if perFile <= 0 || len(frags) == 0 {
		return nil
	}
	parts := make([][]backup.Fragment, 0, (len(frags)+perFile-1)/perFile)
	for start := 0; start < len(frags); start += perFile {
		parts = append(parts, frags[start:min(start+perFile, len(frags))])
	}
	return parts
}

// Truncate keeps the trailing keep fragments. Backups are ordered oldest
// first, so these are the most recent messages. It reports false when frags
// already fit.
func Truncate(frags []backup.Fragment, keep int) ([]backup.Fragment, bool) {
	if keep < 0 {
		keep = 0
	}
	if len(frags) <= keep {
		return frags, false
	}
	return frags[len(frags)-keep:], true
}

// Sink creates output backups and returns a handle naming each one.
type Sink interface {
	Create(name string) (io.WriteCloser, string, error)
}

// DirSink writes outputs into a directory.
type DirSink struct {
	Dir string
}

// Create opens name inside the directory, creating the directory if needed.
func (s DirSink) Create(name string) (io.WriteCloser, string, error) {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, "", fmt.Errorf("create output: %w", err)
	}
	return f, path, nil
}

// Rewriter applies Split and Truncate to backup files.
type Rewriter struct {
	sink   Sink
	limits policy.Limits
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a Rewriter writing to sink.
func New(sink Sink, limits policy.Limits, b *bus.Bus, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{sink: sink, limits: limits, bus: b, logger: logger}
}

// SplitFile writes src as ceil(N/perFile) backups named
// sms_backup_part<i>_of_<n>.xml and returns their handles in order.
func (rw *Rewriter) SplitFile(ctx context.Context, src backup.Source, perFile int) ([]string, error) {
	if perFile <= 0 {
		return nil, policy.Fatal("split", fmt.Errorf("records per file must be positive, got %d", perFile),
			fmt.Sprintf("Use -per-file %d", DefaultPerFile))
	}
	frags, err := rw.load("split", src)
	if err != nil {
		return nil, err
	}

	parts := Split(frags, perFile)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("split cancelled after %d of %d files: %w", i, len(parts), err)
		}
		name := fmt.Sprintf("sms_backup_part%d_of_%d.xml", i+1, len(parts))
		handle, err := rw.write(name, part)
		if err != nil {
			return out, policy.Fatal("split", err, "Check free disk space and try again")
		}
		out = append(out, handle)
		rw.logger.Info("split part written", zap.String("file", handle), zap.Int("messages", len(part)))
	}
	return out, nil
}

// TruncateFile writes the trailing keep messages of src to
// sms_backup_truncated_<keep>.xml. When src already fits, its name is
// returned and nothing is written. Inputs in the risky band are refused with
// *policy.RiskyError unless force is set.
func (rw *Rewriter) TruncateFile(ctx context.Context, src backup.Source, keep int, force bool) (string, error) {
	if keep <= 0 {
		return "", policy.Fatal("truncate", fmt.Errorf("messages to keep must be positive, got %d", keep),
			fmt.Sprintf("Use -keep %d", DefaultKeep))
	}
	size, err := src.Size()
	if err != nil {
		return "", policy.Fatal("truncate", err, "Check that the backup file exists and is readable")
	}
	if err := rw.limits.CheckInMemory("truncate", size); err != nil {
		return "", err
	}
	if rw.limits.Risky(size) {
		if !force {
			return "", &policy.RiskyError{Op: "truncate", Size: size}
		}
		msg := fmt.Sprintf("truncating a %.0f MB file; this may run out of memory", policy.ToMB(size))
		rw.logger.Warn(msg, zap.String("file", src.Name()))
		rw.bus.Emit(bus.ImportWarning, bus.Warning{Source: src.Name(), Message: msg})
	}

	frags, err := rw.read("truncate", src)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	kept, changed := Truncate(frags, keep)
	if !changed {
		rw.logger.Info("backup already within limit",
			zap.String("file", src.Name()), zap.Int("messages", len(frags)))
		return src.Name(), nil
	}
	handle, err := rw.write(fmt.Sprintf("sms_backup_truncated_%d.xml", keep), kept)
	if err != nil {
		return "", policy.Fatal("truncate", err, "Check free disk space and try again")
	}
	rw.logger.Info("backup truncated",
		zap.String("file", handle), zap.Int("kept", len(kept)), zap.Int("dropped", len(frags)-len(kept)))
	return handle, nil
}

// load sizes src, enforces the ceiling, then reads and extracts it.
func (rw *Rewriter) load(op string, src backup.Source) ([]backup.Fragment, error) {
	size, err := src.Size()
	if err != nil {
		return nil, policy.Fatal(op, err, "Check that the backup file exists and is readable")
	}
	if err := rw.limits.CheckInMemory(op, size); err != nil {
		return nil, err
	}
	return rw.read(op, src)
}

func (rw *Rewriter) read(op string, src backup.Source) ([]backup.Fragment, error) {
	raw, err := src.ReadAll()
	if err != nil {
		return nil, policy.Fatal(op, err, "Check that the backup file exists and is readable")
	}
	frags := backup.ExtractFragments(raw)
	if len(frags) == 0 {
		return nil, policy.Fatal(op, policy.ErrNoMessages,
			"Make sure the file is an SMS backup with <sms .../> entries")
	}
	return frags, nil
}

func (rw *Rewriter) write(name string, frags []backup.Fragment) (string, error) {
	wc, handle, err := rw.sink.Create(name)
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(wc)
	if err := backup.Write(bw, frags); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("flush %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return handle, nil
}
