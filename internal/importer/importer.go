// Package importer classifies backup records and writes them to the store.
//
// Work is split into fixed-size chunks, each committed in its own
// transaction, so an interrupted run leaves whole chunks behind and never a
// partial one. Progress is published on the bus under the "import."
// namespace; the importer does not know who is listening.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/backup"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/policy"
	"github.com/matheus3301/textile/internal/status"
	"github.com/matheus3301/textile/internal/store"
)

// Defaults for Options.
const (
	DefaultChunkSize  = 1000
	DefaultChunkDelay = 50 * time.Millisecond
)

// LastImportKey is the preference holding the summary of the latest run.
const LastImportKey = "last_import"

// Progress bands, in percent.
const (
	percentAnalyzing = 5
	percentSetup     = 10
	percentChunks    = 85
	percentDone      = 100
)

// Options tunes an Importer.
type Options struct {
	ChunkSize  int
	ChunkDelay time.Duration
	Limits     policy.Limits
	Now        func() time.Time
}

// DefaultOptions returns 1000-record chunks, a 50ms pause and default limits.
func DefaultOptions() Options {
	return Options{
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
		Limits:     policy.DefaultLimits(),
		Now:        time.Now,
	}
}

// Stats counts the outcome of one run.
type Stats struct {
	Total        int `json:"total"`
	Processed    int `json:"processed"`
	Imported     int `json:"imported"`
	Duplicates   int `json:"duplicates"`
	Failed       int `json:"failed"`
	CurrentChunk int `json:"current_chunk"`
	TotalChunks  int `json:"total_chunks"`
}

// Progress is the payload of import.progress events.
type Progress struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
	Stats   Stats  `json:"stats"`
}

// Started is the payload of import.started events.
type Started struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

// Finished is the payload of import.completed and import.failed events.
type Finished struct {
	RunID    string   `json:"run_id"`
	Stats    Stats    `json:"stats"`
	Error    string   `json:"error,omitempty"`
	Remedies []string `json:"remedies,omitempty"`
}


// Importer runs imports against one store.
type Importer struct {
	db         *store.DB
	bus        *bus.Bus
	logger     *zap.Logger
	classifier *classify.Classifier
	opts       Options
}

// New creates an importer. A zero ChunkSize, Limits or Now takes the default; a nil
// logger discards output and a nil classifier uses the default rules.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, c *classify.Classifier, opts Options) *Importer {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.Limits == (policy.Limits{}) {
		opts.Limits = def.Limits
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = classify.New()
	}
	return &Importer{
		db:         db,
		bus:        b,
		logger:     logger,
		classifier: c,
		opts:       opts,
	}
}

// Limits returns the size limits in effect.
func (imp *Importer) Limits() policy.Limits {
	return imp.opts.Limits
}

// ImportFile is the top-level entry point. It sizes src, resolves the
// strategy, enforces the in-memory ceiling and only then reads the input.
// Split and truncate tiers are refused: above the in-memory ceiling with
// *policy.TooLargeError, below it with a pointer to the matching command.
func (imp *Importer) ImportFile(ctx context.Context, src backup.Source, strategy policy.Strategy) (*Stats, error) {
	r := imp.begin(src.Name(), string(strategy))

	size, err := src.Size()
	if err != nil {
		return r.fail(policy.Fatal("import", err,
			"Check that the backup file exists and is readable"))
	}

	if strategy == policy.Auto {
		rec := imp.opts.Limits.Recommend(size)
		r.logger.Info("strategy recommended",
			zap.String("strategy", string(rec.Strategy)),
			zap.Float64("size_mb", rec.SizeMB),
			zap.Int64("estimated_messages", rec.EstimatedMessages))
		strategy = rec.Strategy
	}

	switch strategy {
	case policy.Split, policy.Truncate:
		// Above the ceiling split and truncate refuse too, so only the
		// size remedies apply.
		if err := imp.opts.Limits.CheckInMemory(string(strategy), size); err != nil {
			return r.fail(err)
		}
		return r.fail(policy.Fatal("import",
			fmt.Errorf("a %.0f MB backup needs the %s strategy", policy.ToMB(size), strategy),
			fmt.Sprintf("Run 'textile %s %s' and import the resulting file(s)", strategy, src.Name()),
			"Export a shorter date range from the backup app"))
	case policy.Direct, policy.Chunked:
	default:
		return r.fail(policy.Fatal("import", fmt.Errorf("unknown strategy %q", strategy),
			"Use -strategy auto, direct or chunked"))
	}

	if err := imp.opts.Limits.CheckInMemory(string(strategy)+" import", size); err != nil {
		return r.fail(err)
	}
	if imp.opts.Limits.Risky(size) {
		r.warn(fmt.Sprintf("%.0f MB is close to the memory ceiling; the import may fail", policy.ToMB(size)))
	}

	raw, err := src.ReadAll()
	if err != nil {
		return r.fail(policy.Fatal("import", err,
			"Check that the backup file exists and is readable",
			"Copy the file to local storage and try again"))
	}

	if strategy == policy.Direct {
		return imp.direct(ctx, r, raw)
	}
	return imp.chunked(ctx, r, raw)
}

// ImportInChunks extracts fragments from raw and imports them chunk by chunk.
func (imp *Importer) ImportInChunks(ctx context.Context, raw string) (*Stats, error) {
	return imp.chunked(ctx, imp.begin("", string(policy.Chunked)), raw)
}

// ImportDirect parses raw in one pass and imports it in one transaction.
func (imp *Importer) ImportDirect(ctx context.Context, raw string) (*Stats, error) {
	return imp.direct(ctx, imp.begin("", string(policy.Direct)), raw)
}

// ImportRecords imports already-normalized records, such as those read
// straight from a device, through the same chunk loop.
func (imp *Importer) ImportRecords(ctx context.Context, recs []backup.Record) (*Stats, error) {
	r := imp.begin("records", "records")
	r.progress("Reading messages...", percentAnalyzing)
	if len(recs) == 0 {
		return r.fail(noMessages())
	}
	r.stats.Total = len(recs)
	err := imp.chunks(ctx, r, len(recs), imp.opts.ChunkSize, func(i int) (backup.Record, error) {
		return recs[i], nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.finish()
}

func (imp *Importer) chunked(ctx context.Context, r *run, raw string) (*Stats, error) {
	if err := imp.opts.Limits.CheckInMemory("chunked import", int64(len(raw))); err != nil {
		return r.fail(err)
	}
	r.progress("Analyzing file...", percentAnalyzing)

	frags := backup.ExtractFragments(raw)
	if len(frags) == 0 {
		return r.fail(noMessages())
	}
	r.stats.Total = len(frags)

	now := imp.opts.Now()
	err := imp.chunks(ctx, r, len(frags), imp.opts.ChunkSize, func(i int) (backup.Record, error) {
		return backup.ParseFragment(frags[i], now)
	})
	if err != nil {
		return r.fail(err)
	}
	return r.finish()
}

func (imp *Importer) direct(ctx context.Context, r *run, raw string) (*Stats, error) {
	if err := imp.opts.Limits.CheckInMemory("direct import", int64(len(raw))); err != nil {
		return r.fail(err)
	}
	r.progress("Parsing file...", percentAnalyzing)

	res := backup.Parse(raw, imp.opts.Now())
	if len(res.Records) == 0 && res.Failed == 0 {
		return r.fail(noMessages())
	}
	r.stats.Total = len(res.Records) + res.Failed
	r.stats.Failed = res.Failed
	r.stats.Processed = res.Failed

	err := imp.chunks(ctx, r, len(res.Records), max(len(res.Records), 1), func(i int) (backup.Record, error) {
		return res.Records[i], nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.finish()
}

// chunks runs decode over [0, n) in chunks of size, one transaction each.
// A decode error counts the record as failed and moves on.
func (imp *Importer) chunks(ctx context.Context, r *run, n, size int, decode func(int) (backup.Record, error)) error {
	if err := r.phase.Transition(status.Importing); err != nil {
		return err
	}
	r.stats.TotalChunks = (n + size - 1) / size
	r.progress("Preparing import...", percentSetup)

	for start := 0; start < n; start += size {
		if err := ctx.Err(); err != nil {
			return policy.Fatal("import", fmt.Errorf("cancelled after %d of %d chunks: %w",
				r.stats.CurrentChunk, r.stats.TotalChunks, err),
				"Re-run the import to resume; saved messages are skipped as duplicates")
		}
		end := min(start+size, n)

		var cs Stats
		err := imp.db.WithTx(func(tx *store.Tx) error {
			for i := start; i < end; i++ {
				rec, err := decode(i)
				if err != nil {
					cs.Failed++
					r.logger.Debug("skipping record", zap.Int("index", i), zap.Error(err))
					continue
				}
				m := &store.Message{
					Sender:   rec.Sender,
					Body:     rec.Body,
					Time:     rec.Date,
					ThreadID: rec.ThreadID,
					Category: string(imp.classifier.Classify(rec.Body, rec.Date)),
				}
				inserted, err := tx.InsertIfAbsent(m)
				if err != nil {
					return err
				}
				if inserted {
					cs.Imported++
				} else {
					cs.Duplicates++
				}
			}
			return nil
		})
		if err != nil {
			return policy.Fatal("import", fmt.Errorf("chunk %d: %w", r.stats.CurrentChunk+1, err),
				"Earlier chunks were saved; re-run the import to resume",
				"Check free disk space for the profile directory")
		}

		r.stats.Imported += cs.Imported
		r.stats.Duplicates += cs.Duplicates
		r.stats.Failed += cs.Failed
		r.stats.Processed += end - start
		r.stats.CurrentChunk++

		pct := percentSetup + r.stats.CurrentChunk*percentChunks/r.stats.TotalChunks
		r.progress(fmt.Sprintf("Processing chunk %d of %d...", r.stats.CurrentChunk, r.stats.TotalChunks), pct)
		r.logger.Debug("chunk committed",
			zap.Int("chunk", r.stats.CurrentChunk),
			zap.Int("imported", cs.Imported),
			zap.Int("duplicates", cs.Duplicates),
			zap.Int("failed", cs.Failed))

		if end < n && imp.opts.ChunkDelay > 0 {
			pause(ctx, imp.opts.ChunkDelay)
		}
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func noMessages() error {
	return policy.Fatal("import", policy.ErrNoMessages,
		"Make sure the file is an SMS backup with <sms .../> entries",
		"Create a fresh backup and try again")
}

// run carries the state of one import.
type run struct {
	imp    *Importer
	id     string
	source string
	logger *zap.Logger
	phase  *status.Machine
	stats  Stats
	start  time.Time
}

func (imp *Importer) begin(source, mode string) *run {
	id := uuid.NewString()
	r := &run{
		imp:    imp,
		id:     id,
		source: source,
		logger: imp.logger.With(zap.String("run_id", id)),
		phase:  status.NewMachine(imp.bus),
		start:  time.Now(),
	}
	r.logger.Info("import started", zap.String("source", source), zap.String("mode", mode))
	imp.bus.Emit(bus.ImportStarted, Started{RunID: id, Source: source, Mode: mode})
	_ = r.phase.Transition(status.Analyzing)
	return r
}

func (r *run) progress(msg string, pct int) {
	r.imp.bus.Emit(bus.ImportProgress, Progress{RunID: r.id, Message: msg, Percent: pct, Stats: r.stats})
}

func (r *run) warn(msg string) {
	r.logger.Warn(msg)
	r.imp.bus.Emit(bus.ImportWarning, bus.Warning{RunID: r.id, Source: r.source, Message: msg})
}

func (r *run) fail(err error) (*Stats, error) {
	to := status.Failed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		to = status.Cancelled
	}
	_ = r.phase.Transition(to)
	r.logger.Error("import failed", zap.Error(err), zap.Int("imported", r.stats.Imported))
	r.imp.bus.Emit(bus.ImportFailed, Finished{
		RunID:    r.id,
		Stats:    r.stats,
		Error:    err.Error(),
		Remedies: policy.Remedies(err),
	})
	stats := r.stats
	return &stats, err
}

func (r *run) finish() (*Stats, error) {
	if err := r.phase.Transition(status.Finalizing); err != nil {
		return r.fail(err)
	}
	if err := r.record(); err != nil {
		// History is informational; the rows are already committed.
		r.logger.Warn("record import history", zap.Error(err))
	}
	_ = r.phase.Transition(status.Completed)
	r.progress("Import complete", percentDone)
	r.logger.Info("import completed",
		zap.Int("total", r.stats.Total),
		zap.Int("imported", r.stats.Imported),
		zap.Int("duplicates", r.stats.Duplicates),
		zap.Int("failed", r.stats.Failed),
		zap.Duration("elapsed", time.Since(r.start)))
	r.imp.bus.Emit(bus.ImportCompleted, Finished{RunID: r.id, Stats: r.stats})
	stats := r.stats
	return &stats, nil
}

// LastImport is the summary stored under LastImportKey.
type LastImport struct {
	RunID string `json:"run_id"`
	At    int64  `json:"at"`
	Stats Stats  `json:"stats"`
}

func (r *run) record() error {
	data, err := json.Marshal(LastImport{RunID: r.id, At: r.imp.opts.Now().UnixMilli(), Stats: r.stats})
	if err != nil {
		return err
	}
	if err := r.imp.db.SetPreference(LastImportKey, string(data)); err != nil {
		return err
	}
	return r.imp.db.RecordAction(store.ActionImport, int64(r.stats.Imported),
		fmt.Sprintf("run=%s total=%d duplicates=%d failed=%d",
			r.id, r.stats.Total, r.stats.Duplicates, r.stats.Failed))
}

// ReadLastImport loads the summary of the most recent successful run, or
// nil if there has been none.
func ReadLastImport(db *store.DB) (*LastImport, error) {
	v, err := db.GetPreference(LastImportKey)
	if err != nil || v == "" {
		return nil, err
	}
	var li LastImport
	if err := json.Unmarshal([]byte(v), &li); err != nil {
		return nil, fmt.Errorf("decode last import: %w", err)
	}
	return &li, nil
}
