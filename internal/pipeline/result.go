package pipeline

import (
	"fmt"
	"sort"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
)

// Attrs is an append-only bag of named values produced by a stage. A
// key, once set, cannot be replaced. The zero Attrs is empty and ready to
// use.
type Attrs struct {
	keys   []string
	values map[string]any
}

// Set adds key. Setting an existing key returns ErrAttrExists.
func (a *Attrs) Set(key string, value any) error {
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, exists := a.values[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrAttrExists)
	}
	a.keys = append(a.keys, key)
	a.values[key] = value
	return nil
}

// MustSet is Set for keys known to be fresh. It panics on a duplicate.
func (a *Attrs) MustSet(key string, value any) {
	if err := a.Set(key, value); err != nil {
		panic(err)
	}
}

// Get returns the value stored under key.
func (a Attrs) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Str returns the canonical string form of key's value, or "".
func (a Attrs) Str(key string) string {
	return params.Format(a.values[key])
}

// Keys returns the keys in insertion order.
func (a Attrs) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Len returns the number of attributes.
func (a Attrs) Len() int {
	return len(a.keys)
}

// Map returns a copy of the attributes.
func (a Attrs) Map() map[string]any {
	out := make(map[string]any, len(a.keys))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// FetchResult locates the source material of a benchmark.
type FetchResult struct {
	SrcDir string
	Attrs  Attrs
}

// BuildResult locates the built artifacts.
type BuildResult struct {
	BuildDir string
	Attrs    Attrs
}

// RunResult carries the raw outputs of the commands the Run stage issued.
type RunResult struct {
	Outputs []*execport.Output
	Attrs   Attrs
}

// Output returns the last captured output, or nil.
func (r *RunResult) Output() *execport.Output {
	if r == nil || len(r.Outputs) == 0 {
		return nil
	}
	return r.Outputs[len(r.Outputs)-1]
}

// RecordResult is the flat mapping of result fields produced by Collect.
type RecordResult map[string]any

// Keys returns the field names, sorted.
func (r RecordResult) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
