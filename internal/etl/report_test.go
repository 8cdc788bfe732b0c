package etl

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportName(t *testing.T) {
	tests := map[string]string{
		"quiz.csv":                  "rapport_quiz.csv",
		"docker_20240301_1200.xlsx": "rapport_docker_20240301_1200_xlsx.csv",
		"quiz.XLS":                  "rapport_quiz_xls.csv",
		"quiz.CSV":                  "rapport_quiz.csv",
		"":                          "rapport_log.csv",
		"dir/nested.csv":            "rapport_nested.csv",
	}
	for in, want := range tests {
		if got := ReportName(in); got != want {
			t.Fatalf("ReportName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReporterWritesHeaderOnceAndAppends(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, nil)
	r.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

	r.Emit(Event{SourceFile: "quiz.csv", Kind: KindReadOK, Message: "2 rows to process"})
	r.Emit(Event{SourceFile: "quiz.csv", SourceIndex: lineRef(3), Kind: KindDupSkipped, Message: "q='a;b'"})

	// A second reporter on the same directory keeps appending.
	NewReporter(dir, nil).Emit(Event{
		Timestamp:  time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
		SourceFile: "quiz.csv",
		Kind:       KindSummary,
		Message:    "Questions accepted: 1 | rejected: 1 | total: 2",
	})

	raw, err := os.ReadFile(filepath.Join(dir, "rapport_quiz.csv"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, utf8BOM))
	assert.Equal(t, 1, bytes.Count(raw, utf8BOM))

	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	cr.Comma = ';'
	recs, err := cr.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"timestamp", "file", "line", "type_evenement", "message"},
		{"2024-03-01 09:30:00", "quiz.csv", "", "READ_OK", "2 rows to process"},
		{"2024-03-01 09:30:00", "quiz.csv", "3", "DUP_SKIPPED", "q='a;b'"},
		{"2024-03-02 08:00:00", "quiz.csv", "", "SUMMARY", "Questions accepted: 1 | rejected: 1 | total: 2"},
	}, recs)
}

func TestReporterSeparatesSources(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, nil)
	r.Emit(Event{SourceFile: "a.csv", Kind: KindReadOK})
	r.Emit(Event{SourceFile: "b.xlsx", Kind: KindReadOK})

	assert.FileExists(t, filepath.Join(dir, "rapport_a.csv"))
	assert.FileExists(t, filepath.Join(dir, "rapport_b.csv"))
}

func TestReporterResolve(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter(dir, nil)
	r.Emit(Event{SourceFile: "quiz.csv", Kind: KindReadOK})

	p, err := r.Resolve("rapport_quiz.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rapport_quiz.csv"), p)

	for _, name := range []string{"", "../rapport_quiz.csv", "rapport_missing.csv", ".hidden", "sub/rapport_quiz.csv"} {
		_, err := r.Resolve(name)
		assert.ErrorIs(t, err, ErrReportNotFound, name)
	}
}

func TestMultiSinkSkipsNil(t *testing.T) {
	a, b := &eventLog{}, &eventLog{}
	var calls int
	s := MultiSink(a, nil, SinkFunc(func(Event) { calls++ }), b)

	s.Emit(Event{Kind: KindSummary})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, 1, calls)
}
