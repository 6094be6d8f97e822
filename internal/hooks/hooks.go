// Package hooks holds the callbacks fired around the Run stage.
//
// Pre-run hooks observe the resolved record before Run starts. An error
// from a pre-run hook fails the run. Post-run hooks see the raw outputs of
// Run, the collected fields and the artifact directory, and may return
// extra fields; those are merged into the result row with later hooks
// overriding earlier ones key by key.
//
// Hooks annotate runs. They never decide which stage runs next.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
)

// ErrFrozen is returned when registering on a registry in use by a
// running campaign.
var ErrFrozen = errors.New("hook registry is frozen")

// PreRunEvent describes a run about to start.
type PreRunEvent struct {
	Port      execport.Port
	Record    params.Record
	Constants params.Record
	Rep       int
	RecordDir string // on the target, "" without artifacts
}

// PostRunEvent describes a finished Run stage.
type PostRunEvent struct {
	Port      execport.Port
	Record    params.Record
	Constants params.Record
	Rep       int
	Outputs   []*execport.Output
	Fields    map[string]any // collected so far; do not modify
	RecordDir string         // local, "" without artifacts
}

// PreRunHook is called before Run.
type PreRunHook func(ctx context.Context, ev PreRunEvent) error

// PostRunHook is called after Run and Collect. The returned fields are
// merged into the result.
type PostRunHook func(ctx context.Context, ev PostRunEvent) (map[string]any, error)

// HookError reports a failing hook.
type HookError struct {
	Phase string // "pre-run" or "post-run"
	Hook  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %s: %v", e.Phase, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

type namedPre struct {
	name string
	fn   PreRunHook
}

type namedPost struct {
	name string
	fn   PostRunHook
}

// Registry is an ordered list of pre-run and post-run hooks. Hooks run in
// registration order. The zero Registry is empty and ready to use.
type Registry struct {
	mu     sync.RWMutex
	pre    []namedPre
	post   []namedPost
	frozen bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// OnPreRun appends a pre-run hook.
func (r *Registry) OnPreRun(name string, fn PreRunHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", name, ErrFrozen)
	}
	if fn == nil {
		return fmt.Errorf("register %s: nil hook", name)
	}
	r.pre = append(r.pre, namedPre{name: name, fn: fn})
	return nil
}

// OnPostRun appends a post-run hook.
func (r *Registry) OnPostRun(name string, fn PostRunHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", name, ErrFrozen)
	}
	if fn == nil {
		return fmt.Errorf("register %s: nil hook", name)
	}
	r.post = append(r.post, namedPost{name: name, fn: fn})
	return nil
}

// Freeze rejects further registrations. Campaigns freeze their registry
// when they start running.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Len returns the number of pre-run and post-run hooks.
func (r *Registry) Len() (pre, post int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pre), len(r.post)
}

// Names returns the hook names in order, for logs.
func (r *Registry) Names() (pre, post []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.pre {
		pre = append(pre, h.name)
	}
	for _, h := range r.post {
		post = append(post, h.name)
	}
	return pre, post
}

// RunPre calls the pre-run hooks in order and stops at the first error.
func (r *Registry) RunPre(ctx context.Context, ev PreRunEvent) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	hooks := append([]namedPre(nil), r.pre...)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.fn(ctx, ev); err != nil {
			return &HookError{Phase: "pre-run", Hook: h.name, Err: err}
		}
	}
	return nil
}

// RunPost calls the post-run hooks in order and merges their fields.
// A key returned by a later hook overrides the same key from an earlier
// one. The first error stops the sequence.
func (r *Registry) RunPost(ctx context.Context, ev PostRunEvent) (map[string]any, error) {
	merged := make(map[string]any)
	if r == nil {
		return merged, nil
	}
	r.mu.RLock()
	hooks := append([]namedPost(nil), r.post...)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		fields, err := h.fn(ctx, ev)
		if err != nil {
			return merged, &HookError{Phase: "post-run", Hook: h.name, Err: err}
		}
		for k, v := range fields {
			merged[k] = v
		}
	}
	return merged, nil
}
