// Package wrappers rewrites benchmark commands before they are executed:
// CPU pinning, NUMA placement, priority, profilers, tracers, preloaded
// libraries.
//
// A Chain applies its wrappers so that the first declared wrapper ends up
// outermost. With the chain [taskset, perf] the command
//
//	./bench
//
// becomes
//
//	taskset --cpu-list 0 perf stat ... ./bench
//
// Order matters and is the author's choice; the chain never reorders.
package wrappers

import (
	"context"
	"fmt"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
)

// Invocation is the context a wrapper sees for one command.
type Invocation struct {
	// Port is the target the command runs on. Wrappers resolve their
	// binaries through it. A nil Port skips availability checks.
	Port execport.Port

	// Params holds the record variables merged with the constants.
	Params params.Record

	// RecordDir is the per-run artifact directory on the target, or ""
	// when artifacts are disabled.
	RecordDir string
}

// Wrapper transforms a command into a wrapped command.
type Wrapper interface {
	Name() string
	Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error)
}

// Collector is implemented by wrappers that leave artifacts behind (a
// profile, a trace summary) and fold them into the run's result fields.
// recordDir is local: remote artifacts have been copied back already.
type Collector interface {
	Wrapper
	Collect(ctx context.Context, recordDir string) (map[string]any, error)
}

// Chain is an ordered list of wrappers. The first wrapper is outermost.
type Chain []Wrapper

// Wrap folds cmd through every wrapper of the chain, innermost first.
// cmd itself is not modified.
func (c Chain) Wrap(ctx context.Context, cmd execport.Command, inv Invocation) (execport.Command, error) {
	out := cmd.Clone()
	for i := len(c) - 1; i >= 0; i-- {
		w := c[i]
		wrapped, err := w.Wrap(ctx, out, inv)
		if err != nil {
			return cmd, fmt.Errorf("wrap with %s: %w", w.Name(), err)
		}
		out = wrapped
	}
	return out, nil
}

// Collectors returns the wrappers of the chain that collect artifacts,
// in chain order.
func (c Chain) Collectors() []Collector {
	var out []Collector
	for _, w := range c {
		if col, ok := w.(Collector); ok {
			out = append(out, col)
		}
	}
	return out
}

// Names returns the wrapper names in chain order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, w := range c {
		names[i] = w.Name()
	}
	return names
}

// prepend returns cmd with prefix in front of its argv.
func prepend(cmd execport.Command, prefix ...string) execport.Command {
	argv := make([]string, 0, len(prefix)+len(cmd.Argv))
	argv = append(argv, prefix...)
	cmd.Argv = append(argv, cmd.Argv...)
	return cmd
}

// requireBinary checks that bin resolves on the invocation's port.
func requireBinary(ctx context.Context, wrapper string, inv Invocation, bin string) error {
	if inv.Port == nil {
		return nil
	}
	if _, err := inv.Port.LookPath(ctx, bin); err != nil {
		if execport.IsRetryable(err) {
			return err
		}
		return &UnavailableError{
			Wrapper: wrapper,
			Reason:  fmt.Sprintf("%s not found on %s", bin, inv.Port.Name()),
			Err:     err,
		}
	}
	return nil
}

// requireRecordDir fails when the wrapper needs an artifact directory to
// write its output and none is configured.
func requireRecordDir(wrapper string, inv Invocation) error {
	if inv.RecordDir == "" {
		return &UnavailableError{Wrapper: wrapper, Reason: "needs a record artifact directory"}
	}
	return nil
}
