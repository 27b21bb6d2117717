package rewrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/textile/internal/backup"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/policy"
)

type memSource struct {
	raw   string
	size  int64 // overrides len(raw) when set
	reads int
}

func (s *memSource) Name() string { return "mem.xml" }

func (s *memSource) Size() (int64, error) {
	if s.size > 0 {
		return s.size, nil
	}
	return int64(len(s.raw)), nil
}

func (s *memSource) ReadAll() (string, error) {
	s.reads++
	return s.raw, nil
}

type bufCloser struct{ *bytes.Buffer }

func (bufCloser) Close() error { return nil }

type memSink struct {
	order []string
	files map[string]*bytes.Buffer
}

func newMemSink() *memSink { return &memSink{files: map[string]*bytes.Buffer{}} }

func (s *memSink) Create(name string) (io.WriteCloser, string, error) {
	buf := &bytes.Buffer{}
	s.files[name] = buf
	s.order = append(s.order, name)
	return bufCloser{buf}, name, nil
}

func fragments(n int) []backup.Fragment {
	frags := make([]backup.Fragment, n)
	for i := range frags {
		frags[i] = backup.Fragment(fmt.Sprintf(`<sms address="S" body="m%d" date="%d" />`, i, 1000+i))
	}
	return frags
}

func doc(t *testing.T, frags []backup.Fragment) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, backup.Write(&buf, frags))
	return buf.String()
}

func TestSplitPartitions(t *testing.T) {
	tests := []struct {
		n, perFile, wantParts int
	}{
		{10, 3, 4},
		{9, 3, 3},
		{1, 5000, 1},
		{0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.perFile), func(t *testing.T) {
			frags := fragments(tt.n)
			parts := Split(frags, tt.perFile)
			require.Len(t, parts, tt.wantParts)

			var joined []backup.Fragment
			for _, p := range parts {
				assert.LessOrEqual(t, len(p), tt.perFile)
				joined = append(joined, p...)
			}
			assert.Equal(t, len(frags), len(joined))
			if tt.n > 0 {
				assert.Equal(t, frags, joined)
			}
		})
	}
	assert.Nil(t, Split(fragments(3), 0))
}

func TestTruncateKeepsMostRecent(t *testing.T) {
	frags := fragments(100)

	kept, changed := Truncate(frags, 10)
	assert.True(t, changed)
	assert.Equal(t, frags[90:], kept)

	same, changed := Truncate(frags, 100)
	assert.False(t, changed)
	assert.Equal(t, frags, same)

	_, changed = Truncate(frags, 500)
	assert.False(t, changed)
}

func TestSplitFileRoundTrip(t *testing.T) {
	frags := fragments(23)
	src := &memSource{raw: doc(t, frags)}
	sink := newMemSink()
	rw := New(sink, policy.DefaultLimits(), nil, nil)

	handles, err := rw.SplitFile(context.Background(), src, 5)
	require.NoError(t, err)
	require.Len(t, handles, 5)
	assert.Equal(t, "sms_backup_part1_of_5.xml", handles[0])
	assert.Equal(t, "sms_backup_part5_of_5.xml", handles[4])

	var rejoined []backup.Fragment
	for _, h := range handles {
		out := sink.files[h].String()
		assert.True(t, strings.HasPrefix(out, "<?xml"))
		rejoined = append(rejoined, backup.ExtractFragments(out)...)
	}
	assert.Equal(t, frags, rejoined)
	assert.Contains(t, sink.files[handles[4]].String(), `<smses count="3">`)
}

func TestSplitFileKeepsQuotedGreaterThan(t *testing.T) {
	frags := []backup.Fragment{
		`<sms address="A" body="balance > 0" date="1" />`,
		`<sms address="B" body="two" date="2"></sms>`,
		`<sms address="C" body="three" date="3" />`,
	}
	sink := newMemSink()
	rw := New(sink, policy.DefaultLimits(), nil, nil)

	handles, err := rw.SplitFile(context.Background(), &memSource{raw: doc(t, frags)}, 2)
	require.NoError(t, err)
	require.Len(t, handles, 2)

	var rejoined []backup.Fragment
	for _, h := range handles {
		rejoined = append(rejoined, backup.ExtractFragments(sink.files[h].String())...)
	}
	assert.Equal(t, frags, rejoined)
}

func TestTruncateFile(t *testing.T) {
	frags := fragments(100)
	src := &memSource{raw: doc(t, frags)}
	sink := newMemSink()
	rw := New(sink, policy.DefaultLimits(), nil, nil)

	handle, err := rw.TruncateFile(context.Background(), src, 10, false)
	require.NoError(t, err)
	assert.Equal(t, "sms_backup_truncated_10.xml", handle)
	assert.Equal(t, frags[90:], backup.ExtractFragments(sink.files[handle].String()))
}

func TestTruncateFileWithinLimitIsNoop(t *testing.T) {
	src := &memSource{raw: doc(t, fragments(20))}
	sink := newMemSink()
	rw := New(sink, policy.DefaultLimits(), nil, nil)

	handle, err := rw.TruncateFile(context.Background(), src, 20, false)
	require.NoError(t, err)
	assert.Equal(t, src.Name(), handle)
	assert.Empty(t, sink.order)
}

func TestCeilingRefusesWithoutReading(t *testing.T) {
	rw := New(newMemSink(), policy.DefaultLimits(), nil, nil)

	src := &memSource{size: 200 * policy.MB}
	_, err := rw.SplitFile(context.Background(), src, 10)
	var tooLarge *policy.TooLargeError
	require.ErrorAs(t, err, &tooLarge)

	_, err = rw.TruncateFile(context.Background(), src, 10, true)
	require.ErrorAs(t, err, &tooLarge)

	assert.Zero(t, src.reads)
}

func TestTruncateRiskyBand(t *testing.T) {
	raw := doc(t, fragments(50))
	b := bus.New()
	warnings, unsub := b.Subscribe(bus.ImportWarning, 4)
	defer unsub()

	rw := New(newMemSink(), policy.DefaultLimits(), b, nil)

	src := &memSource{raw: raw, size: 40 * policy.MB}
	_, err := rw.TruncateFile(context.Background(), src, 10, false)
	var risky *policy.RiskyError
	require.ErrorAs(t, err, &risky)
	assert.Zero(t, src.reads)
	assert.Equal(t, "Re-run with -force to try anyway", policy.Remedies(err)[0])

	handle, err := rw.TruncateFile(context.Background(), src, 10, true)
	require.NoError(t, err)
	assert.Equal(t, "sms_backup_truncated_10.xml", handle)
	require.Len(t, warnings, 1)
	w, ok := (<-warnings).Payload.(bus.Warning)
	require.True(t, ok, "warning payload should be bus.Warning")
	assert.Equal(t, "mem.xml", w.Source)
	assert.Empty(t, w.RunID)
	assert.Contains(t, w.Message, "40 MB")
}

func TestSplitFileNoMessages(t *testing.T) {
	rw := New(newMemSink(), policy.DefaultLimits(), nil, nil)
	_, err := rw.SplitFile(context.Background(), &memSource{raw: "<smses></smses>"}, 10)
	assert.True(t, errors.Is(err, policy.ErrNoMessages))
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	frags := fragments(4)
	rw := New(DirSink{Dir: dir}, policy.DefaultLimits(), nil, nil)

	handles, err := rw.SplitFile(context.Background(), &memSource{raw: doc(t, frags)}, 2)
	require.NoError(t, err)
	require.Len(t, handles, 2)

	data, err := os.ReadFile(handles[1])
	require.NoError(t, err)
	assert.Equal(t, frags[2:], backup.ExtractFragments(string(data)))
	assert.Equal(t, filepath.Join(dir, "sms_backup_part2_of_2.xml"), handles[1])
}
