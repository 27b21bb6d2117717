package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/textile/internal/store"
)

func TestWriteCSVEscapes(t *testing.T) {
	msgs := []store.Message{
		{Category: "spam", Sender: "PROMO", Body: `Say "yes", win big`, Time: 0, ThreadID: "3"},
		{Category: "other", Sender: "MOM", Body: "line one\nline two", Time: 60000},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, msgs, time.UTC))

	assert.True(t, strings.HasPrefix(buf.String(), "Category,Sender,Body,Time,Thread ID\n"))
	assert.Contains(t, buf.String(), `"Say ""yes"", win big"`)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"spam", "PROMO", `Say "yes", win big`, "1970-01-01 00:00:00", "3"}, rows[1])
	assert.Equal(t, "line one\nline two", rows[2][2])
	assert.Equal(t, "", rows[2][4])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []store.Message{{ID: 7, Category: "social", Sender: "A", Body: "hi", Time: 5}}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "social", got[0]["category"])
	assert.NotContains(t, got[0], "thread_id")
}

func TestWriteSummary(t *testing.T) {
	s := &store.Summary{
		Total:      3,
		ByCategory: map[string]int64{"spam": 2, "medical": 1},
		TopSenders: []store.SenderCount{{Sender: "A", Count: 2}},
		Latest:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, s, time.UTC))

	out := buf.String()
	assert.Contains(t, out, "Total Messages: 3")
	assert.Contains(t, out, "Spam:     2")
	assert.Contains(t, out, "Overdue:  0")
	assert.Contains(t, out, "A: 2")
	assert.Contains(t, out, "Latest Message: 2025-01-02 03:04:05")
}

func TestExporterWrite(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, m := range []store.Message{
		{Sender: "A", Body: "one", Time: 1, Category: "other"},
		{Sender: "B", Body: "two", Time: 2, Category: "spam"},
	} {
		_, err := db.InsertIfAbsent(&m)
		require.NoError(t, err)
	}

	e := New(db)
	for _, f := range []Format{CSV, JSON, Summary} {
		var buf bytes.Buffer
		n, err := e.Write(&buf, f)
		require.NoError(t, err, f)
		assert.Equal(t, 2, n, f)
		assert.NotEmpty(t, buf.String(), f)
	}
}

func TestParseFormatAndFileName(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)

	day := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "textile_sms_export_2025-06-30.txt", FileName(Summary, day))
	assert.Equal(t, "textile_sms_export_2025-06-30.json", FileName(JSON, day))
}
