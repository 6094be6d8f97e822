package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Separator is the field separator of result streams.
const Separator = ';'

// Table is a result stream loaded in memory.
type Table struct {
	Meta   []Meta
	Header []string
	Rows   [][]string
}

// ReadCSV loads a result stream. Comment lines of the form "# key: value"
// become Meta entries; other comments are ignored. A file holding only
// comments yields a table without header.
func ReadCSV(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	t, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseCSV parses a result stream from r.
func ParseCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	t := &Table{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if m, ok := ParseMetaLine(scanner.Text()); ok {
			t.Meta = append(t.Meta, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	cr := newReader(bytes.NewReader(data))
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return t, nil
	}
	t.Header = records[0]
	t.Rows = records[1:]
	return t, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = Separator
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = Separator
	return cw
}

// ParseMetaLine parses a "# key: value" comment line.
func ParseMetaLine(line string) (Meta, bool) {
	if !strings.HasPrefix(line, "#") {
		return Meta{}, false
	}
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	key, value, ok := strings.Cut(body, ":")
	if !ok || strings.ContainsAny(key, " \t") || key == "" {
		return Meta{}, false
	}
	return Meta{Key: key, Value: strings.TrimSpace(value)}, true
}

// SplitRow splits one data line of a result stream into its values.
func SplitRow(line string) ([]string, error) {
	values, err := newReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return values, nil
}

func writeMeta(w io.Writer, meta []Meta) error {
	for _, m := range meta {
		if _, err := fmt.Fprintf(w, "# %s: %s\n", m.Key, m.Value); err != nil {
			return err
		}
	}
	return nil
}

// Column returns the index of name in the header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// MetaValue returns the last metadata value recorded under key.
func (t *Table) MetaValue(key string) (string, bool) {
	for i := len(t.Meta) - 1; i >= 0; i-- {
		if t.Meta[i].Key == key {
			return t.Meta[i].Value, true
		}
	}
	return "", false
}

// Records returns every row as a column name to value map. Short rows leave
// trailing columns out; values beyond the header are dropped.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes t to path, replacing any existing file.
func WriteCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeTable(f, t); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeTable(w io.Writer, t *Table) error {
	if err := writeMeta(w, t.Meta); err != nil {
		return err
	}
	if len(t.Header) == 0 {
		return nil
	}
	cw := newWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
