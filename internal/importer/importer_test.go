package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/textile/internal/backup"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/policy"
	"github.com/matheus3301/textile/internal/store"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testImporter(t *testing.T, db *store.DB, b *bus.Bus, chunkSize int) *Importer {
	t.Helper()
	opts := DefaultOptions()
	opts.ChunkSize = chunkSize
	opts.ChunkDelay = 0
	opts.Now = func() time.Time { return fixedNow }
	c := classify.New(classify.WithClock(func() time.Time { return fixedNow }))
	return New(db, b, nil, c, opts)
}

func backupDoc(n int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>` + "\n")
	fmt.Fprintf(&sb, "<smses count=\"%d\">\n", n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "  <sms address=\"S%d\" body=\"message %d\" date=\"%d\" />\n",
			i%3, i, 1700000000000+int64(i))
	}
	sb.WriteString("</smses>\n")
	return sb.String()
}

func TestImportIsIdempotent(t *testing.T) {
	db := testDB(t)
	imp := testImporter(t, db, nil, 4)
	doc := backupDoc(10)

	first, err := imp.ImportInChunks(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Imported)
	assert.Zero(t, first.Duplicates)

	second, err := imp.ImportInChunks(context.Background(), doc)
	require.NoError(t, err)
	assert.Zero(t, second.Imported)
	assert.Equal(t, 10, second.Duplicates)

	n, err := db.CountAll()
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
}

func TestChunkedMatchesDirect(t *testing.T) {
	doc := backupDoc(25)
	// Repeat a record so both paths see an in-file duplicate.
	doc = strings.Replace(doc, "</smses>", `<sms address="S0" body="message 0" date="1700000000000" />`+"\n</smses>", 1)

	chunkedDB := testDB(t)
	chunked, err := testImporter(t, chunkedDB, nil, 7).ImportInChunks(context.Background(), doc)
	require.NoError(t, err)

	directDB := testDB(t)
	direct, err := testImporter(t, directDB, nil, 7).ImportDirect(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, 26, chunked.Total)
	assert.Equal(t, 4, chunked.TotalChunks)
	assert.Equal(t, 1, direct.TotalChunks)
	assert.Equal(t, chunked.Imported, direct.Imported)
	assert.Equal(t, chunked.Duplicates, direct.Duplicates)
	assert.Equal(t, chunked.Failed, direct.Failed)
	assert.Equal(t, 25, chunked.Imported)
	assert.Equal(t, 1, chunked.Duplicates)

	a, err := chunkedDB.ListMessages(store.Filter{})
	require.NoError(t, err)
	b, err := directDB.ListMessages(store.Filter{})
	require.NoError(t, err)
	require.Len(t, a, len(b))
	for i := range a {
		assert.Equal(t, a[i].Body, b[i].Body)
		assert.Equal(t, a[i].Category, b[i].Category)
	}
}

func TestChunkedMatchesDirectOnUnusualTags(t *testing.T) {
	docs := map[string]string{
		"gt in body": `<smses>
<sms address="A" body="balance > 0" date="1" />
<sms address="B" body="two" date="2" />
</smses>`,
		"open and close tag": `<smses>
<sms address="A" body="one" date="1"></sms>
<sms address="B" body="two" date="2" />
</smses>`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			chunked, err := testImporter(t, testDB(t), nil, 1).ImportInChunks(context.Background(), doc)
			require.NoError(t, err)
			direct, err := testImporter(t, testDB(t), nil, 1).ImportDirect(context.Background(), doc)
			require.NoError(t, err)

			assert.Equal(t, 2, chunked.Total)
			assert.Equal(t, 2, chunked.Imported)
			assert.Zero(t, chunked.Failed)
			assert.Equal(t, direct.Total, chunked.Total)
			assert.Equal(t, direct.Imported, chunked.Imported)
		})
	}
}

func TestMalformedFragmentIsCountedNotFatal(t *testing.T) {
	doc := `<smses>
<sms address="A" body="one" date="1" />
<sms address="B" body="broken & tag" date="2" />
<sms address="C" body="three" date="3" />
</smses>`

	for name, run := range map[string]func(*Importer) (*Stats, error){
		"chunked": func(imp *Importer) (*Stats, error) { return imp.ImportInChunks(context.Background(), doc) },
		"direct":  func(imp *Importer) (*Stats, error) { return imp.ImportDirect(context.Background(), doc) },
	} {
		t.Run(name, func(t *testing.T) {
			stats, err := run(testImporter(t, testDB(t), nil, 2))
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Total)
			assert.Equal(t, 3, stats.Processed)
			assert.Equal(t, 2, stats.Imported)
			assert.Equal(t, 1, stats.Failed)
		})
	}
}

func TestProgressEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("import.", 256)
	defer unsub()

	imp := testImporter(t, testDB(t), b, 2)
	_, err := imp.ImportInChunks(context.Background(), backupDoc(5))
	require.NoError(t, err)

	var (
		percents  []int
		chunkMsgs int
		kinds     []string
	)
	for len(ch) > 0 {
		evt := <-ch
		kinds = append(kinds, evt.Kind)
		if p, ok := evt.Payload.(Progress); ok {
			percents = append(percents, p.Percent)
			if strings.HasPrefix(p.Message, "Processing chunk") {
				chunkMsgs++
			}
		}
	}

	assert.Equal(t, bus.ImportStarted, kinds[0])
	assert.Equal(t, bus.ImportCompleted, kinds[len(kinds)-1])
	assert.Equal(t, 3, chunkMsgs)
	require.NotEmpty(t, percents)
	assert.Equal(t, 5, percents[0])
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.Contains(t, percents, 95)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress went backwards")
	}
}

type hugeSource struct {
	size  int64
	reads int
}

func (s *hugeSource) Name() string         { return "huge.xml" }
func (s *hugeSource) Size() (int64, error) { return s.size, nil }
func (s *hugeSource) ReadAll() (string, error) {
	s.reads++
	return "", errors.New("must not read")
}

func TestCeilingEnforcedBeforeRead(t *testing.T) {
	imp := testImporter(t, testDB(t), nil, 1000)

	for _, strategy := range []policy.Strategy{policy.Auto, policy.Direct, policy.Chunked, policy.Split, policy.Truncate} {
		t.Run(string(strategy), func(t *testing.T) {
			src := &hugeSource{size: 200 * policy.MB}
			_, err := imp.ImportFile(context.Background(), src, strategy)
			require.Error(t, err)
			assert.Zero(t, src.reads, "ReadAll called for oversized input")
			assert.NotEmpty(t, policy.Remedies(err))
		})
	}

	src := &hugeSource{size: 200 * policy.MB}
	_, err := imp.ImportFile(context.Background(), src, policy.Chunked)
	var tooLarge *policy.TooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestSplitTierAboveCeilingOffersSizeRemedies(t *testing.T) {
	imp := testImporter(t, testDB(t), nil, 1000)

	for _, strategy := range []policy.Strategy{policy.Auto, policy.Split} {
		t.Run(string(strategy), func(t *testing.T) {
			src := &hugeSource{size: 70 * policy.MB}
			_, err := imp.ImportFile(context.Background(), src, strategy)
			var tooLarge *policy.TooLargeError
			require.ErrorAs(t, err, &tooLarge)
			for _, r := range policy.Remedies(err) {
				assert.NotContains(t, r, "textile split")
			}
		})
	}
}

func TestSplitTierBelowCeilingPointsAtCommand(t *testing.T) {
	db := testDB(t)
	opts := DefaultOptions()
	opts.ChunkDelay = 0
	opts.Limits.SplitMax = 200 * policy.MB
	opts.Limits.InMemoryMax = 100 * policy.MB
	opts.Limits.ChunkedMax = 20 * policy.MB
	imp := New(db, nil, nil, nil, opts)

	src := &hugeSource{size: 30 * policy.MB}
	_, err := imp.ImportFile(context.Background(), src, policy.Auto)
	require.Error(t, err)
	assert.Zero(t, src.reads)
	assert.Contains(t, policy.Remedies(err)[0], "textile split huge.xml")
}

type riskySource struct {
	raw string
}

func (s riskySource) Name() string             { return "risky.xml" }
func (s riskySource) Size() (int64, error)     { return 40 * policy.MB, nil }
func (s riskySource) ReadAll() (string, error) { return s.raw, nil }

func TestRiskyImportWarns(t *testing.T) {
	b := bus.New()
	warnings, unsub := b.Subscribe(bus.ImportWarning, 4)
	defer unsub()

	imp := testImporter(t, testDB(t), b, 10)
	stats, err := imp.ImportFile(context.Background(), riskySource{raw: backupDoc(3)}, policy.Chunked)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Imported)

	require.Len(t, warnings, 1)
	w, ok := (<-warnings).Payload.(bus.Warning)
	require.True(t, ok)
	assert.NotEmpty(t, w.RunID)
	assert.Equal(t, "risky.xml", w.Source)
}

func TestInMemoryCeilingOnRawInput(t *testing.T) {
	db := testDB(t)
	opts := DefaultOptions()
	opts.Limits.InMemoryMax = 64
	imp := New(db, nil, nil, nil, opts)

	_, err := imp.ImportInChunks(context.Background(), backupDoc(10))
	var tooLarge *policy.TooLargeError
	require.ErrorAs(t, err, &tooLarge)

	_, err = imp.ImportDirect(context.Background(), backupDoc(10))
	require.ErrorAs(t, err, &tooLarge)

	n, _ := db.CountAll()
	assert.Zero(t, n)
}

func TestNoMessagesIsFatal(t *testing.T) {
	imp := testImporter(t, testDB(t), nil, 10)

	_, err := imp.ImportInChunks(context.Background(), "<smses count=\"0\"></smses>")
	require.ErrorIs(t, err, policy.ErrNoMessages)
	assert.NotEmpty(t, policy.Remedies(err))

	_, err = imp.ImportDirect(context.Background(), "not a backup")
	require.ErrorIs(t, err, policy.ErrNoMessages)

	_, err = imp.ImportRecords(context.Background(), nil)
	require.ErrorIs(t, err, policy.ErrNoMessages)
}

func TestCancellationStopsBeforeNextChunk(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ImportFailed, 4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := testImporter(t, db, b, 2).ImportInChunks(ctx, backupDoc(6))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.Zero(t, stats.CurrentChunk)

	n, _ := db.CountAll()
	assert.Zero(t, n)

	select {
	case evt := <-ch:
		assert.NotEmpty(t, evt.Payload.(Finished).Error)
	case <-time.After(time.Second):
		t.Fatal("no import.failed event")
	}
}

func TestImportRecordsClassifies(t *testing.T) {
	db := testDB(t)
	imp := testImporter(t, db, nil, 10)

	recs := []backup.Record{
		{Sender: "UPS", Body: "Your parcel is out for delivery", Date: fixedNow.UnixMilli()},
		{Sender: "BANK", Body: "Your code is 482913", Date: fixedNow.Add(-time.Hour).UnixMilli(), ThreadID: "4"},
		{Sender: "MOM", Body: "dinner?", Date: fixedNow.UnixMilli()},
	}
	stats, err := imp.ImportRecords(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Imported)

	for cat, want := range map[classify.Category]int64{classify.Delivery: 1, classify.Expired: 1, classify.Other: 1} {
		n, err := db.CountByCategory(string(cat))
		require.NoError(t, err)
		assert.Equal(t, want, n, cat)
	}
}

func TestImportFileRecordsLastImport(t *testing.T) {
	db := testDB(t)
	imp := testImporter(t, db, nil, 3)

	path := filepath.Join(t.TempDir(), "backup.xml")
	require.NoError(t, os.WriteFile(path, []byte(backupDoc(7)), 0600))

	stats, err := imp.ImportFile(context.Background(), backup.NewFile(path), policy.Auto)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Imported)
	// Small files route to direct: one chunk.
	assert.Equal(t, 1, stats.TotalChunks)

	last, err := ReadLastImport(db)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 7, last.Stats.Imported)
	assert.Equal(t, fixedNow.UnixMilli(), last.At)

	actions, err := db.ListActions(5)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActionImport, actions[0].Type)
}

func TestImportFileMissing(t *testing.T) {
	imp := testImporter(t, testDB(t), nil, 3)
	_, err := imp.ImportFile(context.Background(), backup.NewFile(filepath.Join(t.TempDir(), "nope.xml")), policy.Auto)

	var fatal *policy.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NotEmpty(t, policy.Remedies(err))
}
