// Package execport is the uniform command-execution primitive used by every
// pipeline stage.
//
// A Port issues a Command either synchronously (Exec, blocks until exit and
// captures the output) or asynchronously (Start, returns a Handle). The same
// calls work against the local machine and against a remote host over SSH;
// stage code never needs to know which one it talks to.
//
// Duration bounds are enforced by stopping the process gracefully and then
// killing it after a grace period. A timed-out command is reported as a
// TimedOutError together with whatever output it produced.
package execport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultGrace is the time a process gets between the graceful stop signal
// and the kill signal.
const DefaultGrace = 5 * time.Second

// reapTimeout bounds the final wait after a kill signal.
const reapTimeout = 10 * time.Second

// Signal is a portable signal kind.
type Signal int

const (
	SignalInterrupt Signal = iota
	SignalTerminate
	SignalKill
	SignalStop
	SignalContinue
)

// String returns the conventional signal name without the SIG prefix.
func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "INT"
	case SignalTerminate:
		return "TERM"
	case SignalKill:
		return "KILL"
	case SignalStop:
		return "STOP"
	case SignalContinue:
		return "CONT"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Command describes one process to spawn.
type Command struct {
	Argv  []string
	Env   map[string]string // added on top of the port's base environment
	Dir   string
	Stdin string

	// Timeout bounds Exec. Zero means no bound. Ignored by Start.
	Timeout time.Duration

	// Grace is the delay between the graceful stop and the kill when the
	// process is stopped. Zero means DefaultGrace.
	Grace time.Duration

	// AllowFailure makes Exec return a non-zero exit status in Output
	// without an ExitError.
	AllowFailure bool
}

// Sh returns a command running script through sh -c.
func Sh(script string) Command {
	return Command{Argv: []string{"sh", "-c", script}}
}

// EnvList returns the environment as sorted KEY=VALUE entries.
func (c Command) EnvList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + c.Env[k]
	}
	return out
}

// String renders the command as a shell line, for logs.
func (c Command) String() string {
	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(c.Dir))
		b.WriteString(" && ")
	}
	for _, kv := range c.EnvList() {
		b.WriteString(Quote(kv))
		b.WriteByte(' ')
	}
	b.WriteString(Join(c.Argv))
	return b.String()
}

func (c Command) grace() time.Duration {
	if c.Grace > 0 {
		return c.Grace
	}
	return DefaultGrace
}

// Clone returns a deep copy of c.
func (c Command) Clone() Command {
	out := c
	out.Argv = append([]string(nil), c.Argv...)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Output is the captured result of a finished process.
type Output struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process was terminated by a signal
	Duration time.Duration
	TimedOut bool
}

// Lines returns the non-empty lines of stdout.
func (o *Output) Lines() []string {
	return ParseLines([]byte(o.Stdout))
}

// Text returns stdout with surrounding whitespace trimmed.
func (o *Output) Text() string {
	return strings.TrimSpace(o.Stdout)
}

// Handle controls a process started with Port.Start.
type Handle interface {
	// Pid returns the process id on the target, or 0 if unknown.
	Pid() int

	// Wait blocks until the process exits. With a positive timeout it
	// returns ErrStillRunning if the process is still alive afterwards.
	Wait(timeout time.Duration) (*Output, error)

	// Signal delivers sig to the process and its children.
	Signal(sig Signal) error

	// Alive reports whether the process has not exited yet.
	Alive() bool

	// Done is closed when the process exits.
	Done() <-chan struct{}
}

// Port is an execution target.
type Port interface {
	// Name identifies the target in logs and result metadata.
	Name() string

	// IsLocal reports whether commands run on this machine, sharing its
	// filesystem.
	IsLocal() bool

	// Exec runs cmd to completion. A non-zero exit status yields an
	// ExitError unless cmd.AllowFailure is set. A command stopped at
	// cmd.Timeout yields a TimedOutError. The output is returned whenever
	// the process ran, even with an error.
	Exec(ctx context.Context, cmd Command) (*Output, error)

	// Start spawns cmd and returns immediately. Cancelling ctx kills it.
	Start(ctx context.Context, cmd Command) (Handle, error)

	// LookPath resolves an executable on the target.
	LookPath(ctx context.Context, name string) (string, error)

	MkdirAll(ctx context.Context, dir string) error
	RemoveAll(ctx context.Context, dir string) error

	// TempDir creates a fresh scratch directory on the target.
	TempDir(ctx context.Context) (string, error)

	// CopyToLocal copies the contents of dir on the target into localDir.
	CopyToLocal(ctx context.Context, dir, localDir string) error

	Close() error
}

// run implements Port.Exec on top of Port.Start.
func run(ctx context.Context, p Port, cmd Command) (*Output, error) {
	h, err := p.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	out, err := Await(ctx, h, cmd.Timeout, cmd.grace())
	if err != nil {
		return out, err
	}
	if out.ExitCode != 0 && !cmd.AllowFailure {
		return out, &ExitError{Argv: out.Argv, Code: out.ExitCode, Stderr: out.Stderr}
	}
	return out, nil
}

// Await waits for h to exit. If timeout is positive and elapses first, the
// process is stopped with Stop and a TimedOutError is returned along with
// its output. If ctx is cancelled first, the process is killed and
// ctx.Err() is returned.
func Await(ctx context.Context, h Handle, timeout, grace time.Duration) (*Output, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-h.Done():
		return h.Wait(0)
	case <-deadline:
		out, killed, err := Stop(h, grace)
		if out != nil {
			out.TimedOut = true
		}
		if err != nil {
			return out, err
		}
		return out, &TimedOutError{Argv: out.Argv, After: timeout, Killed: killed}
	case <-ctx.Done():
		_ = h.Signal(SignalKill)
		out, _ := h.Wait(reapTimeout)
		return out, ctx.Err()
	}
}

// Stop asks h to terminate, waits up to grace, then kills it if it is
// still alive. killed reports whether the kill was needed.
func Stop(h Handle, grace time.Duration) (out *Output, killed bool, err error) {
	if !h.Alive() {
		out, err = h.Wait(0)
		return out, false, err
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	if err := h.Signal(SignalTerminate); err != nil && !errors.Is(err, ErrTransport) {
		return nil, false, err
	}
	out, err = h.Wait(grace)
	if !errors.Is(err, ErrStillRunning) {
		return out, false, err
	}

	if err := h.Signal(SignalKill); err != nil {
		return nil, true, err
	}
	out, err = h.Wait(reapTimeout)
	return out, true, err
}

// waitDone implements Handle.Wait for handles built around a done channel.
func waitDone(done <-chan struct{}, timeout time.Duration, result func() (*Output, error)) (*Output, error) {
	if timeout <= 0 {
		<-done
		return result()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return result()
	case <-timer.C:
		return nil, ErrStillRunning
	}
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
