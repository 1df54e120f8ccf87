package tabfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fileRow struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Score int       `json:"score"`
	When  time.Time `json:"when"`
}

func newTestFile(t *testing.T) *File[*fileRow] {
	t.Helper()
	f, err := New[*fileRow](filepath.Join(t.TempDir(), "db", "rows.jsonl"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f
}

func testRows() []*fileRow {
	when := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []*fileRow{
		{ID: "a", Name: "Ann", Score: 3, When: when},
		{ID: "b", Name: "Bob", Score: 7, When: when.Add(time.Hour)},
	}
}

func TestFileReadMissing(t *testing.T) {
	f := newTestFile(t)
	rows, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil rows for missing file, got %+v", rows)
	}
	if f.Exists() {
		t.Fatal("Exists() = true for missing file")
	}
}

func TestFileRoundTrip(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rows, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Name != "Ann" || rows[1].Score != 7 {
		t.Fatalf("rows round-tripped wrong: %+v", rows)
	}
}

// Persisting, reading back, and persisting again must produce identical bytes.
func TestFileWriteIdempotent(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(testRows()); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	first, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	rows, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := f.Write(rows); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	second, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("rewrite changed the file:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestFileWriteEmpty(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !f.Exists() {
		t.Fatal("file not created")
	}
	rows, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(rows))
	}
}

func TestFileReadCorruption(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"garbage header", "not json\n"},
		{"header version missing", `{"columns":[{"name":"id","type":"text"}]}` + "\n"},
		{"header columns mismatch", `{"version":"1.0","columns":[{"name":"other","type":"text"}]}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFile(t)
			if err := os.WriteFile(f.Path(), []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := f.Read()
			var ce *CorruptionError
			if !errors.As(err, &ce) {
				t.Fatalf("Read() = %v, want *CorruptionError", err)
			}
		})
	}
}

func TestFileReadCorruptRow(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	fh, err := os.OpenFile(f.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := fh.WriteString("{\"id\": trunca"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	if err := fh.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = f.Read()
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("Read() = %v, want *CorruptionError", err)
	}
	if ce.Line != 4 {
		t.Errorf("got line %d, want 4", ce.Line)
	}

	// The intact rows must survive salvage.
	rows := f.Salvage()
	if len(rows) != 2 {
		t.Fatalf("Salvage kept %d rows, want 2", len(rows))
	}
	if rows[0].ID != "a" || rows[1].ID != "b" {
		t.Fatalf("salvaged wrong rows: %+v", rows)
	}
}

func TestFileSalvageWithoutHeader(t *testing.T) {
	f := newTestFile(t)
	content := `{"id":"a","name":"Ann","score":3,"when":"2026-03-14T09:26:53Z"}` + "\n" +
		"garbage\n" +
		`{"id":"b","name":"Bob","score":7,"when":"2026-03-14T10:26:53Z"}` + "\n"
	if err := os.WriteFile(f.Path(), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	rows := f.Salvage()
	if len(rows) != 2 {
		t.Fatalf("Salvage kept %d rows, want 2: %+v", len(rows), rows)
	}
	if rows[0].ID != "a" || rows[1].ID != "b" {
		t.Fatalf("salvaged wrong rows: %+v", rows)
	}
}

// A write interrupted between the temp file and the rename must leave the
// previous file untouched: the half-written temp is swept on the next open
// and the target still reads back byte for byte.
func TestFileCrashedWriteKeepsTarget(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	before, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	// Simulate a crash mid-write: a partial temp file beside the target.
	stale := filepath.Join(filepath.Dir(f.Path()), ".table-999.tmp")
	if err := os.WriteFile(stale, []byte(`{"version":"1.0","colu`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Reopen as a restarted process would.
	again, err := New[*fileRow](f.Path())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temp file not swept: %v", err)
	}
	after, err := os.ReadFile(again.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("target changed across the crash:\nbefore:\n%s\nafter:\n%s", before, after)
	}
	rows, err := again.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "Ann" {
		t.Fatalf("got %+v, want the original rows", rows)
	}
}

func TestFileSweepsStaleTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.jsonl")
	stale := filepath.Join(dir, ".table-123.tmp")
	if err := os.WriteFile(stale, []byte("half-written"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := New[*fileRow](path); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temp file not swept: %v", err)
	}
}

func TestFileTolerantOfExtraColumns(t *testing.T) {
	f := newTestFile(t)
	content := `{"version":"1.0","columns":[{"name":"id","type":"text"},{"name":"name","type":"text"},{"name":"score","type":"number"},{"name":"when","type":"date"},{"name":"extra","type":"text"}]}` + "\n" +
		`{"id":"a","name":"Ann","score":3,"when":"2026-03-14T09:26:53Z","extra":"x"}` + "\n"
	if err := os.WriteFile(f.Path(), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	rows, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "Ann" {
		t.Fatalf("got %+v", rows)
	}
}
