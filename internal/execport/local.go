package execport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LocalPort runs commands on this machine. Each process is started in its
// own process group so that signals reach the whole tree it spawns.
type LocalPort struct {
	// BaseEnv is the environment every command starts from.
	// Nil means the current process environment.
	BaseEnv []string
}

// NewLocal returns a port for the local machine.
func NewLocal() *LocalPort {
	return &LocalPort{}
}

func (p *LocalPort) Name() string { return "local" }

func (p *LocalPort) IsLocal() bool { return true }

func (p *LocalPort) Exec(ctx context.Context, cmd Command) (*Output, error) {
	return run(ctx, p, cmd)
}

func (p *LocalPort) Start(ctx context.Context, cmd Command) (Handle, error) {
	if len(cmd.Argv) == 0 {
		return nil, ErrEmptyCommand
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	base := p.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	c.Env = append(append([]string(nil), base...), cmd.EnvList()...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	// Orphaned grandchildren holding the pipes must not block Wait forever.
	c.WaitDelay = 2 * time.Second
	setProcessGroup(c)

	h := &localHandle{
		argv: append([]string(nil), cmd.Argv...),
		cmd:  c,
		done: make(chan struct{}),
	}
	c.Stdout = &h.stdout
	c.Stderr = &h.stderr

	h.start = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Argv[0], err)
	}

	go h.wait()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Signal(SignalKill)
		case <-h.done:
		}
	}()
	return h, nil
}

func (p *LocalPort) LookPath(_ context.Context, name string) (string, error) {
	return exec.LookPath(name)
}

func (p *LocalPort) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func (p *LocalPort) RemoveAll(_ context.Context, dir string) error {
	return os.RemoveAll(dir)
}

func (p *LocalPort) TempDir(_ context.Context) (string, error) {
	return os.MkdirTemp("", "bk-")
}

// CopyToLocal copies the tree under dir into localDir. Copying a directory
// onto itself is a no-op.
func (p *LocalPort) CopyToLocal(_ context.Context, dir, localDir string) error {
	src, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(localDir)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	return copyTree(src, dst)
}

func (p *LocalPort) Close() error { return nil }

type localHandle struct {
	argv   []string
	cmd    *exec.Cmd
	start  time.Time
	stdout bytes.Buffer
	stderr bytes.Buffer

	done chan struct{}

	mu  sync.Mutex
	out *Output
	err error
}

func (h *localHandle) wait() {
	err := h.cmd.Wait()
	elapsed := time.Since(h.start)

	out := &Output{
		Argv:     h.argv,
		Stdout:   h.stdout.String(),
		Stderr:   h.stderr.String(),
		Duration: elapsed,
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		err = nil
	case errors.Is(err, exec.ErrWaitDelay):
		// The process exited; only a leftover child kept the pipes open.
		out.ExitCode = h.cmd.ProcessState.ExitCode()
		err = nil
	}

	h.mu.Lock()
	h.out, h.err = out, err
	h.mu.Unlock()
	close(h.done)
}

func (h *localHandle) result() (*Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}

func (h *localHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *localHandle) Wait(timeout time.Duration) (*Output, error) {
	return waitDone(h.done, timeout, h.result)
}

func (h *localHandle) Signal(sig Signal) error {
	if isDone(h.done) {
		return nil
	}
	return signalProcess(h.cmd.Process, sig)
}

func (h *localHandle) Alive() bool {
	return !isDone(h.done)
}

func (h *localHandle) Done() <-chan struct{} {
	return h.done
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
