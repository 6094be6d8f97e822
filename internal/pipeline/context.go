package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/wrappers"
)

// base is the part shared by every stage context. It is built fresh for
// each stage invocation and never modified afterwards.
type base struct {
	ctx       context.Context
	port      execport.Port
	args      params.Record
	record    params.Record
	constants params.Record
	rep       int
	recordDir string
	localDir  bool // recordDir is on this machine
	logger    *log.Logger
}

// Context returns the context of the run. It is cancelled when the
// campaign is interrupted.
func (b *base) Context() context.Context { return b.ctx }

// Port returns the execution target.
func (b *base) Port() execport.Port { return b.port }

// Args returns the parameters declared by the stage manifest.
func (b *base) Args() params.Record { return b.args }

// Arg returns a declared parameter.
func (b *base) Arg(name string) params.Value { return b.args.Value(name) }

// Str returns a declared parameter in canonical string form.
func (b *base) Str(name string) string { return b.args.Str(name) }

// Int returns a declared parameter as an int.
func (b *base) Int(name string) (int, error) { return b.args.Int(name) }

// Float returns a declared parameter as a float64.
func (b *base) Float(name string) (float64, error) { return b.args.Float(name) }

// Record returns the full record of the run.
func (b *base) Record() params.Record { return b.record }

// Constants returns the campaign constants.
func (b *base) Constants() params.Record { return b.constants }

// Rep returns the 1-based repetition number.
func (b *base) Rep() int { return b.rep }

// RecordDir returns the artifact directory of the run, or "" when
// artifacts are disabled. It lives on the target for Fetch, Build and Run,
// and on this machine for Collect.
func (b *base) RecordDir() string { return b.recordDir }

// Logger returns the campaign logger.
func (b *base) Logger() *log.Logger { return b.logger }

// Exec runs cmd on the port without wrappers.
func (b *base) Exec(cmd execport.Command) (*execport.Output, error) {
	return b.port.Exec(b.ctx, cmd)
}

// Sh runs script through sh -c on the port without wrappers.
func (b *base) Sh(script string) (*execport.Output, error) {
	return b.Exec(execport.Sh(script))
}

// RecordPath returns the path of name inside the record directory.
func (b *base) RecordPath(name string) (string, error) {
	if b.recordDir == "" {
		return "", ErrNoRecordDir
	}
	if b.localDir {
		return filepath.Join(b.recordDir, name), nil
	}
	return path.Join(b.recordDir, name), nil
}

// WriteFile stores data as name inside the record directory.
func (b *base) WriteFile(name string, data []byte) error {
	p, err := b.RecordPath(name)
	if err != nil {
		return err
	}
	if b.localDir {
		return os.WriteFile(p, data, 0o644)
	}
	cmd := execport.Sh("cat > " + execport.Quote(p))
	cmd.Stdin = string(data)
	_, err = b.port.Exec(b.ctx, cmd)
	return err
}

// FetchContext is passed to the Fetch stage.
type FetchContext struct {
	base
}

// BuildContext is passed to the Build stage.
type BuildContext struct {
	base
	fetch *FetchResult
}

// Fetch returns the result of the Fetch stage.
func (c *BuildContext) Fetch() *FetchResult { return c.fetch }

// RunContext is passed to the Run stage. Commands issued through Exec,
// Start and RunFor go through the benchmark's wrapper chain and their
// outputs are kept for the RunResult.
type RunContext struct {
	base
	fetch       *FetchResult
	build       *BuildResult
	chain       wrappers.Chain
	attachments []Attachment
	duration    time.Duration
	grace       time.Duration

	mu      sync.Mutex
	outputs []*execport.Output
}

// Fetch returns the result of the Fetch stage.
func (c *RunContext) Fetch() *FetchResult { return c.fetch }

// Build returns the result of the Build stage.
func (c *RunContext) Build() *BuildResult { return c.build }

// Duration returns the configured run duration, 0 when unbounded.
func (c *RunContext) Duration() time.Duration { return c.duration }

// Outputs returns the outputs captured so far.
func (c *RunContext) Outputs() []*execport.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*execport.Output(nil), c.outputs...)
}

func (c *RunContext) keep(out *execport.Output) {
	if out == nil {
		return
	}
	c.mu.Lock()
	c.outputs = append(c.outputs, out)
	c.mu.Unlock()
}

// Wrap applies the wrapper chain to cmd.
func (c *RunContext) Wrap(cmd execport.Command) (execport.Command, error) {
	inv := wrappers.Invocation{
		Port:      c.port,
		Params:    c.constants.Merge(c.record),
		RecordDir: c.recordDir,
	}
	return c.chain.Wrap(c.ctx, cmd, inv)
}

// Exec wraps and runs cmd to completion.
func (c *RunContext) Exec(cmd execport.Command) (*execport.Output, error) {
	wrapped, err := c.Wrap(cmd)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("run: %s", wrapped)
	out, err := c.port.Exec(c.ctx, wrapped)
	c.keep(out)
	return out, err
}

// Sh wraps and runs script through sh -c.
func (c *RunContext) Sh(script string) (*execport.Output, error) {
	return c.Exec(execport.Sh(script))
}

// Start wraps and spawns cmd, then hands the process to the benchmark's
// attachments. If an attachment fails the process is killed.
func (c *RunContext) Start(cmd execport.Command) (execport.Handle, error) {
	wrapped, err := c.Wrap(cmd)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("start: %s", wrapped)
	h, err := c.port.Start(c.ctx, wrapped)
	if err != nil {
		return nil, err
	}
	rh := &recordingHandle{Handle: h, rc: c}

	for _, a := range c.attachments {
		if err := a.Fn(c, rh); err != nil {
			_ = rh.Signal(execport.SignalKill)
			_, _ = rh.Wait(c.grace)
			return nil, fmt.Errorf("attachment %s: %w", a.Name, err)
		}
	}
	return rh, nil
}

// RunFor starts cmd and lets it run for the configured duration. At the
// deadline the process is asked to stop and given the grace period to
// exit; a process that has to be killed yields a TimedOutError. A process
// exiting before the deadline is waited for normally. Without a duration
// RunFor behaves like Exec.
func (c *RunContext) RunFor(cmd execport.Command) (*execport.Output, error) {
	if c.duration <= 0 {
		return c.Exec(cmd)
	}
	h, err := c.Start(cmd)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.duration)
	defer timer.Stop()

	select {
	case <-h.Done():
		out, err := h.Wait(0)
		if err != nil {
			return out, err
		}
		if out.ExitCode != 0 && !cmd.AllowFailure {
			return out, &execport.ExitError{Argv: out.Argv, Code: out.ExitCode, Stderr: out.Stderr}
		}
		return out, nil

	case <-timer.C:
		out, killed, err := execport.Stop(h, c.grace)
		if err != nil {
			return out, err
		}
		if killed {
			out.TimedOut = true
			return out, &execport.TimedOutError{Argv: out.Argv, After: c.duration + c.grace, Killed: true}
		}
		return out, nil

	case <-c.ctx.Done():
		_ = h.Signal(execport.SignalKill)
		out, _ := h.Wait(c.grace)
		return out, c.ctx.Err()
	}
}

// recordingHandle keeps the output of the first successful Wait.
type recordingHandle struct {
	execport.Handle
	rc   *RunContext
	once sync.Once
}

func (h *recordingHandle) Wait(timeout time.Duration) (*execport.Output, error) {
	out, err := h.Handle.Wait(timeout)
	if out != nil && !errors.Is(err, execport.ErrStillRunning) {
		h.once.Do(func() { h.rc.keep(out) })
	}
	return out, err
}

// CollectContext is passed to the Collect stage.
type CollectContext struct {
	base
	fetch *FetchResult
	build *BuildResult
	run   *RunResult
}

// Fetch returns the result of the Fetch stage.
func (c *CollectContext) Fetch() *FetchResult { return c.fetch }

// Build returns the result of the Build stage.
func (c *CollectContext) Build() *BuildResult { return c.build }

// Run returns the result of the Run stage.
func (c *CollectContext) Run() *RunResult { return c.run }

// Output returns the last output captured by Run, or an empty one.
func (c *CollectContext) Output() *execport.Output {
	if out := c.run.Output(); out != nil {
		return out
	}
	return &execport.Output{}
}
