package execport

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	for _, bin := range []string{"sh", "sleep"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
}

func TestLocalExecCapturesOutput(t *testing.T) {
	requireShell(t)
	p := NewLocal()

	cmd := Sh("echo out; echo err >&2; exit 3")
	cmd.AllowFailure = true
	out, err := p.Exec(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if out.Stdout != "out\n" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if out.Stderr != "err\n" {
		t.Errorf("Stderr = %q", out.Stderr)
	}
	if out.TimedOut {
		t.Error("TimedOut should be false")
	}
}

func TestLocalExecNonZeroExit(t *testing.T) {
	requireShell(t)
	out, err := NewLocal().Exec(context.Background(), Sh("echo boom >&2; exit 2"))
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("ExitCode(err) = %d, want 2", ExitCode(err))
	}
	if out == nil || out.Stderr != "boom\n" {
		t.Errorf("output not returned with error: %+v", out)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should include stderr: %v", err)
	}
}

func TestLocalExecEnvAndDir(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := Sh(`echo "$BK_TEST_VALUE"; ls`)
	cmd.Env = map[string]string{"BK_TEST_VALUE": "hello world"}
	cmd.Dir = dir
	out, err := NewLocal().Exec(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	lines := out.Lines()
	if len(lines) != 2 || lines[0] != "hello world" || lines[1] != "marker" {
		t.Errorf("Lines() = %q", lines)
	}
}

func TestLocalExecStdin(t *testing.T) {
	requireShell(t)
	cmd := Command{Argv: []string{"cat"}, Stdin: "piped"}
	out, err := NewLocal().Exec(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if out.Text() != "piped" {
		t.Errorf("Text() = %q", out.Text())
	}
}

func TestLocalExecMissingBinary(t *testing.T) {
	_, err := NewLocal().Exec(context.Background(), Command{Argv: []string{"bk-definitely-missing-binary"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Error("missing binary must not be retryable")
	}
}

func TestLocalExecTimeoutGracefulStop(t *testing.T) {
	requireShell(t)
	cmd := Command{Argv: []string{"sleep", "30"}, Timeout: 100 * time.Millisecond, Grace: 2 * time.Second}

	start := time.Now()
	out, err := NewLocal().Exec(context.Background(), cmd)
	elapsed := time.Since(start)

	var timedOut *TimedOutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected TimedOutError, got %v", err)
	}
	if timedOut.Killed {
		t.Error("sleep honours SIGTERM, kill should not be needed")
	}
	if out == nil || !out.TimedOut {
		t.Errorf("output should be marked timed out: %+v", out)
	}
	if elapsed > 2*time.Second {
		t.Errorf("took %v, expected prompt stop", elapsed)
	}
}

// A process ignoring the graceful stop must still be reaped within
// timeout + grace + a small epsilon.
func TestLocalExecTimeoutIgnoresTerm(t *testing.T) {
	requireShell(t)
	const (
		timeout = 200 * time.Millisecond
		grace   = 300 * time.Millisecond
		epsilon = 3 * time.Second
	)
	cmd := Sh("trap '' TERM; sleep 30; echo never")
	cmd.Timeout = timeout
	cmd.Grace = grace

	start := time.Now()
	out, err := NewLocal().Exec(context.Background(), cmd)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	var timedOut *TimedOutError
	if errors.As(err, &timedOut) && !timedOut.Killed {
		t.Error("expected the process to be killed")
	}
	if elapsed < timeout+grace {
		t.Errorf("returned after %v, before the grace period elapsed", elapsed)
	}
	if elapsed > timeout+grace+epsilon {
		t.Errorf("returned after %v, want <= %v", elapsed, timeout+grace+epsilon)
	}
	if strings.Contains(out.Stdout, "never") {
		t.Error("process should not have completed")
	}
}

func TestLocalStartWaitSignal(t *testing.T) {
	requireShell(t)
	h, err := NewLocal().Start(context.Background(), Command{Argv: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.Alive() {
		t.Fatal("process should be alive")
	}
	if h.Pid() <= 0 {
		t.Errorf("Pid() = %d", h.Pid())
	}
	if _, err := h.Wait(50 * time.Millisecond); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("Wait() error = %v, want ErrStillRunning", err)
	}

	if err := h.Signal(SignalTerminate); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	out, err := h.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a signalled process", out.ExitCode)
	}
	if h.Alive() {
		t.Error("process should be gone")
	}
	if err := h.Signal(SignalKill); err != nil {
		t.Errorf("signalling an exited process should be a no-op, got %v", err)
	}
}

func TestLocalStartContextCancel(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	h, err := NewLocal().Start(ctx, Command{Argv: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not killed after context cancellation")
	}
}

func TestStopExitedProcess(t *testing.T) {
	requireShell(t)
	h, err := NewLocal().Start(context.Background(), Sh("echo done"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-h.Done()

	out, killed, err := Stop(h, time.Second)
	if err != nil || killed {
		t.Fatalf("Stop() = killed %v, err %v", killed, err)
	}
	if out.Text() != "done" {
		t.Errorf("Text() = %q", out.Text())
	}
}

func TestLocalCopyToLocal(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "perf.csv"), []byte("1,2"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewLocal()
	if err := p.CopyToLocal(context.Background(), src, dst); err != nil {
		t.Fatalf("CopyToLocal() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "nested", "perf.csv"))
	if err != nil || string(data) != "1,2" {
		t.Errorf("copied file = %q, %v", data, err)
	}

	if err := p.CopyToLocal(context.Background(), src, src); err != nil {
		t.Errorf("copy onto itself should be a no-op, got %v", err)
	}
}
