package store

import (
	"errors"
	"log"
	"os"

	"github.com/steveyegge/campaign/internal/params"
)

// Tee writes every row to a primary store and its mirrors. Continuation is
// answered by the primary alone, and only the primary decides whether a row
// was stored: mirror failures are logged.
type Tee struct {
	primary RecordStore
	mirrors []RecordStore
	logger  *log.Logger
}

// NewTee returns primary when there are no mirrors.
func NewTee(logger *log.Logger, primary RecordStore, mirrors ...RecordStore) RecordStore {
	if len(mirrors) == 0 {
		return primary
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Tee{primary: primary, mirrors: mirrors, logger: logger}
}

// Path returns the primary path.
func (t *Tee) Path() string {
	return t.primary.Path()
}

// HasCompleted delegates to the primary.
func (t *Tee) HasCompleted(point params.Record, rep int) (bool, error) {
	return t.primary.HasCompleted(point, rep)
}

// Append writes to the primary, then to every mirror. Only a primary
// failure is returned.
func (t *Tee) Append(point params.Record, rep int, fields map[string]any) error {
	if err := t.primary.Append(point, rep, fields); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Append(point, rep, fields); err != nil {
			t.logger.Printf("Warning: mirror %s missed %s rep %d: %v", m.Path(), point, rep, err)
		}
	}
	return nil
}

// Finish forwards meta to every store supporting it. Only a primary
// failure is returned.
func (t *Tee) Finish(meta []Meta) error {
	if err := Finish(t.primary, meta); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := Finish(m, meta); err != nil {
			t.logger.Printf("Warning: %v", err)
		}
	}
	return nil
}

// Close closes all stores.
func (t *Tee) Close() error {
	errs := []error{t.primary.Close()}
	for _, m := range t.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
