// Package store persists campaign results and answers continuation queries.
//
// A RecordStore receives one row per completed (point, repetition) pair,
// where a point is the campaign constants merged with the record variables.
// Rows are appended as runs finish so an interrupted campaign leaves a usable,
// partial result file behind. HasCompleted is what lets a resumed campaign
// skip work that already produced a row.
//
// Backends:
//   - CSVStore: ';'-separated text stream with a "# key: value" metadata block
//   - SQLiteStore: queryable mirror keyed by campaign name, point and rep
//   - Tee: fans rows out to a primary store and any number of mirrors
package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/steveyegge/campaign/internal/params"
)

// RepColumn is the column holding the 1-based repetition number.
const RepColumn = "rep"

// ContinuingComment marks the point where a resumed campaign started
// appending to an existing result stream.
const ContinuingComment = "Continuing campaign execution"

var (
	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("store is closed")

	// ErrMalformed is returned when an existing result file cannot be parsed.
	//
	// Example:
	//
	//	if errors.Is(err, store.ErrMalformed) {
	//	    // start a fresh result file instead of continuing
	//	}
	ErrMalformed = errors.New("malformed result file")
)

// RecordStore persists result rows and answers continuation queries.
type RecordStore interface {
	// HasCompleted reports whether a row for (point, rep) already exists.
	HasCompleted(point params.Record, rep int) (bool, error)

	// Append writes one row for (point, rep) carrying fields.
	Append(point params.Record, rep int, fields map[string]any) error

	// Path returns where the rows are written.
	Path() string

	Close() error
}

// Finisher is implemented by stores that record trailing metadata once a
// campaign is done.
type Finisher interface {
	Finish(meta []Meta) error
}

// Meta is one metadata entry, rendered "# key: value" in CSV streams.
type Meta struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// M is shorthand for building a Meta from any value.
func M(key string, value any) Meta {
	return Meta{Key: key, Value: params.Format(value)}
}

// identity is the continuation key of a (point, rep) pair.
func identity(point params.Record, rep int) string {
	return point.Key() + "#" + RepColumn + "=" + strconv.Itoa(rep)
}

// Finish calls Finish on s when it supports trailing metadata.
func Finish(s RecordStore, meta []Meta) error {
	f, ok := s.(Finisher)
	if !ok {
		return nil
	}
	if err := f.Finish(meta); err != nil {
		return fmt.Errorf("failed to finish %s: %w", s.Path(), err)
	}
	return nil
}
