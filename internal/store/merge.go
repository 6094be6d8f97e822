package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Merge concatenates tables over the union of their columns, in the order
// columns are first seen. Cells missing from a table are left empty.
func Merge(tables ...*Table) *Table {
	out := &Table{}
	pos := make(map[string]int)
	for _, t := range tables {
		for _, h := range t.Header {
			if _, ok := pos[h]; !ok {
				pos[h] = len(out.Header)
				out.Header = append(out.Header, h)
			}
		}
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Header))
			for i, h := range t.Header {
				if i < len(row) {
					merged[pos[h]] = row[i]
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// MergeCSV merges the result streams at inputs into a single stream at out.
// Inputs without rows are skipped.
func MergeCSV(out string, inputs ...string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no result files to merge")
	}

	tables := make([]*Table, 0, len(inputs))
	var meta []Meta
	for _, in := range inputs {
		t, err := ReadCSV(in)
		if err != nil {
			return err
		}
		meta = append(meta, Meta{Key: "merged_from", Value: in})
		if len(t.Header) == 0 {
			continue
		}
		tables = append(tables, t)
	}

	merged := Merge(tables...)
	merged.Meta = meta
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return WriteCSV(out, merged)
}
