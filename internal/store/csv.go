package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/campaign/internal/params"
)

// CSVConfig configures a CSVStore.
type CSVConfig struct {
	// Path of the result stream.
	Path string

	// Metadata is written as the "# key: value" block of a new stream.
	Metadata []Meta

	// Continue appends to an existing stream and answers HasCompleted from
	// its rows. Without it an existing file is truncated.
	Continue bool

	Logger *log.Logger
}

// CSVStore is a RecordStore writing a ';'-separated result stream.
//
// The column set is fixed by the first row ever written: point names in
// declaration order, then "rep", then the row's fields sorted by name. Later
// fields outside that header are dropped from the stream and logged once.
// Every row is flushed to disk before Append returns.
type CSVStore struct {
	mu sync.Mutex

	path   string
	file   *os.File
	w      *csv.Writer
	logger *log.Logger

	header  []string
	columns map[string]bool

	// rows already in the stream, used for continuation lookups
	rows    []map[string]string
	indexes map[string]*rowIndex

	resumed     bool
	markPending bool
	appended    int
	dropped     map[string]bool
	closed      bool
}

type rowIndex struct {
	names []string
	keys  map[string]bool
}

// OpenCSV opens or creates the result stream described by cfg.
//
// Example:
//
//	s, err := store.OpenCSV(store.CSVConfig{
//	    Path:     "results/locks_host_20260101_120000.csv",
//	    Metadata: []store.Meta{store.M("campaign", "locks")},
//	    Continue: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func OpenCSV(cfg CSVConfig) (*CSVStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("result path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}

	s := &CSVStore{
		path:    cfg.Path,
		logger:  cfg.Logger,
		indexes: make(map[string]*rowIndex),
		dropped: make(map[string]bool),
	}

	info, statErr := os.Stat(cfg.Path)
	exists := statErr == nil && info.Size() > 0

	if exists && cfg.Continue {
		t, err := ReadCSV(cfg.Path)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Path, err)
		}
		if err := terminateLine(cfg.Path, f); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.file = f
		if len(t.Header) > 0 {
			s.setHeader(t.Header)
			s.rows = t.Records()
			s.resumed = true
			s.markPending = true
		}
		s.w = newWriter(f)
		s.logger.Printf("Continuing %s: %d rows already recorded", cfg.Path, len(s.rows))
		return s, nil
	}

	if exists {
		s.logger.Printf("Warning: overwriting existing result file %s", cfg.Path)
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.Path, err)
	}
	if err := writeMeta(f, cfg.Metadata); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	s.file = f
	s.w = newWriter(f)
	return s, nil
}

// terminateLine appends a newline when an interrupted write left the last
// line unterminated.
func terminateLine(path string, f *os.File) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()

	info, err := r.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *CSVStore) setHeader(header []string) {
	s.header = header
	s.columns = make(map[string]bool, len(header))
	for _, h := range header {
		s.columns[h] = true
	}
}

// Path returns the result stream path.
func (s *CSVStore) Path() string {
	return s.path
}

// Header returns the columns of the stream, nil before the first row.
func (s *CSVStore) Header() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.header))
	copy(out, s.header)
	return out
}

// Resumed reports whether the stream already held rows when opened.
func (s *CSVStore) Resumed() bool {
	return s.resumed
}

// Appended returns the number of rows written since the store was opened.
func (s *CSVStore) Appended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appended
}

// HasCompleted reports whether the stream holds a row whose point columns
// and rep match. Values compare in canonical string form.
func (s *CSVStore) HasCompleted(point params.Record, rep int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if len(s.rows) == 0 {
		return false, nil
	}
	return s.indexFor(point.Names()).keys[identity(point, rep)], nil
}

func (s *CSVStore) indexFor(names []string) *rowIndex {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	sig := strings.Join(sorted, "\x00")

	if idx, ok := s.indexes[sig]; ok {
		return idx
	}
	idx := &rowIndex{names: sorted, keys: make(map[string]bool, len(s.rows))}
	for _, row := range s.rows {
		if key, ok := idx.rowKey(row); ok {
			idx.keys[key] = true
		}
	}
	s.indexes[sig] = idx
	return idx
}

// rowKey rebuilds the identity of a stored row over the index names.
func (idx *rowIndex) rowKey(row map[string]string) (string, bool) {
	pairs := make([]params.Pair, 0, len(idx.names))
	for _, name := range idx.names {
		v, ok := row[name]
		if !ok {
			return "", false
		}
		pairs = append(pairs, params.Pair{Name: name, Value: v})
	}
	rep, err := strconv.Atoi(strings.TrimSpace(row[RepColumn]))
	if err != nil {
		return "", false
	}
	return identity(params.NewRecord(pairs...), rep), true
}

// Append writes one row. Point values win over fields of the same name.
func (s *CSVStore) Append(point params.Record, rep int, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.header == nil {
		s.setHeader(newHeader(point, fields))
		if err := s.w.Write(s.header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	} else if s.markPending {
		s.w.Flush()
		if _, err := fmt.Fprintf(s.file, "# %s\n", ContinuingComment); err != nil {
			return fmt.Errorf("failed to write continuation mark: %w", err)
		}
	}
	s.markPending = false

	for name := range fields {
		if !s.columns[name] && !point.Has(name) && !s.dropped[name] {
			s.dropped[name] = true
			s.logger.Printf("Warning: field %q is not a column of %s, dropping it", name, s.path)
		}
	}

	row := make([]string, len(s.header))
	stored := make(map[string]string, len(s.header))
	for i, col := range s.header {
		switch {
		case point.Has(col):
			row[i] = point.Str(col)
		case col == RepColumn:
			row[i] = strconv.Itoa(rep)
		default:
			if v, ok := fields[col]; ok {
				row[i] = params.Format(v)
			}
		}
		stored[col] = row[i]
	}

	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush row: %w", err)
	}

	s.rows = append(s.rows, stored)
	for _, idx := range s.indexes {
		if key, ok := idx.rowKey(stored); ok {
			idx.keys[key] = true
		}
	}
	s.appended++
	return nil
}

func newHeader(point params.Record, fields map[string]any) []string {
	header := append(point.Names(), RepColumn)
	extra := make([]string, 0, len(fields))
	for name := range fields {
		if name == RepColumn || point.Has(name) {
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	return append(header, extra...)
}

// Finish writes meta as trailing comments, but only when this session
// appended rows, so a rerun with nothing left to do leaves the file as is.
func (s *CSVStore) Finish(meta []Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.appended == 0 {
		return nil
	}
	s.w.Flush()
	return writeMeta(s.file, meta)
}

// Close flushes and closes the stream.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	werr := s.w.Error()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return werr
}
