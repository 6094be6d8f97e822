package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openSQLite(t *testing.T, path, campaign string, cont bool) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(SQLiteConfig{
		Path:     path,
		Campaign: campaign,
		Metadata: []Meta{M("campaign", campaign)},
		Continue: cont,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	return s
}

func TestSQLiteStoreAppendAndContinue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s := openSQLite(t, path, "locks", false)

	if err := s.Append(point(1, "a"), 1, map[string]any{"ops": 10}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(point(2, "a"), 1, map[string]any{"ops": 20, "lat": 1.5}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if done, err := s.HasCompleted(point(1, "a"), 1); err != nil || !done {
		t.Errorf("HasCompleted() = %v, %v; want true", done, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openSQLite(t, path, "locks", true)
	defer s.Close()
	if done, _ := s.HasCompleted(point(2, "a"), 1); !done {
		t.Errorf("row lost across reopen")
	}
	if done, _ := s.HasCompleted(point(2, "a"), 2); done {
		t.Errorf("rep 2 reported as completed")
	}

	other := openSQLite(t, path, "other", true)
	if done, _ := other.HasCompleted(point(1, "a"), 1); done {
		t.Errorf("rows leaked across campaigns")
	}
	if err := other.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	table, err := s.Table()
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	want := &Table{
		Meta:   []Meta{{Key: "campaign", Value: "locks"}},
		Header: []string{"impl", "threads", "rep", "lat", "ops"},
		Rows: [][]string{
			{"a", "1", "1", "", "10"},
			{"a", "2", "1", "1.5", "20"},
		},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("Table() mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreResetWithoutContinue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s := openSQLite(t, path, "kv", false)
	if err := s.Append(point(1, "a"), 1, nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openSQLite(t, path, "kv", false)
	defer s.Close()
	rows, err := s.Rows()
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(Rows()) = %d, want 0", len(rows))
	}
}

func TestTee(t *testing.T) {
	dir := t.TempDir()
	primary := openCSV(t, filepath.Join(dir, "r.csv"), false)
	mirror := openSQLite(t, filepath.Join(dir, "r.db"), "kv", false)

	tee := NewTee(quietLogger(), primary, mirror)
	if tee.Path() != primary.Path() {
		t.Errorf("Path() = %q, want primary path", tee.Path())
	}
	if err := tee.Append(point(1, "a"), 1, map[string]any{"x": 1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if done, _ := tee.HasCompleted(point(1, "a"), 1); !done {
		t.Errorf("primary does not see the row")
	}
	if done, _ := mirror.HasCompleted(point(1, "a"), 1); !done {
		t.Errorf("mirror does not see the row")
	}
	if err := Finish(tee, []Meta{M("total_duration_seconds", 1)}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	meta, err := mirror.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if len(meta) != 2 {
		t.Errorf("mirror metadata = %v, want campaign and total_duration_seconds", meta)
	}
	if err := tee.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := primary.Append(point(1, "a"), 2, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("primary still open after Tee.Close: %v", err)
	}

	if NewTee(nil, primary) != RecordStore(primary) {
		t.Errorf("NewTee without mirrors should return the primary")
	}
}

func TestSQLiteStoreNonFiniteFields(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "results.db"), "kv", false)
	defer s.Close()

	fields := map[string]any{"lat": math.NaN(), "max": math.Inf(1), "min": float32(math.Inf(-1)), "ops": 3}
	if err := s.Append(point(1, "a"), 1, fields); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	table, err := s.Table()
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	want := [][]string{{"a", "1", "1", "NaN", "+Inf", "-Inf", "3"}}
	if diff := cmp.Diff(want, table.Rows); diff != "" {
		t.Errorf("Table().Rows mismatch (-want +got):\n%s", diff)
	}
}

func TestTeeMirrorFailureKeepsPrimaryRow(t *testing.T) {
	dir := t.TempDir()
	primary := openCSV(t, filepath.Join(dir, "r.csv"), false)
	mirror := openSQLite(t, filepath.Join(dir, "r.db"), "kv", false)
	if err := mirror.Close(); err != nil {
		t.Fatal(err)
	}

	tee := NewTee(quietLogger(), primary, mirror)
	defer tee.Close()
	if err := tee.Append(point(1, "a"), 1, map[string]any{"x": 1}); err != nil {
		t.Fatalf("Append() error = %v, want mirror failure ignored", err)
	}
	if done, _ := tee.HasCompleted(point(1, "a"), 1); !done {
		t.Errorf("primary does not see the row")
	}
	if err := Finish(tee, []Meta{M("total_duration_seconds", 1)}); err != nil {
		t.Errorf("Finish() error = %v, want mirror failure ignored", err)
	}
}
