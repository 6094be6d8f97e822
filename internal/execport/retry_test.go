package execport

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

// flakyPort fails Exec with the queued errors before succeeding.
type flakyPort struct {
	LocalPort
	errs  []error
	calls int
}

func (f *flakyPort) Name() string { return "flaky" }

func (f *flakyPort) Exec(_ context.Context, cmd Command) (*Output, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &Output{Argv: cmd.Argv}, nil
}

func transportErr() error {
	return &TransportError{Port: "flaky", Op: "new session", Err: io.EOF}
}

func TestWithRetryTransportFailures(t *testing.T) {
	fp := &flakyPort{errs: []error{transportErr(), transportErr()}}
	p := WithRetry(fp, RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond}, log.New(io.Discard, "", 0))

	if _, err := p.Exec(context.Background(), Command{Argv: []string{"true"}}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if fp.calls != 3 {
		t.Errorf("calls = %d, want 3", fp.calls)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	fp := &flakyPort{errs: []error{transportErr(), transportErr(), transportErr()}}
	p := WithRetry(fp, RetryPolicy{MaxRetries: 1}, log.New(io.Discard, "", 0))

	_, err := p.Exec(context.Background(), Command{Argv: []string{"true"}})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if fp.calls != 2 {
		t.Errorf("calls = %d, want 2", fp.calls)
	}
}

func TestWithRetryIgnoresCommandFailures(t *testing.T) {
	fp := &flakyPort{errs: []error{&ExitError{Argv: []string{"false"}, Code: 1}}}
	p := WithRetry(fp, RetryPolicy{MaxRetries: 3}, log.New(io.Discard, "", 0))

	_, err := p.Exec(context.Background(), Command{Argv: []string{"false"}})
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", err)
	}
	if fp.calls != 1 {
		t.Errorf("calls = %d, want 1", fp.calls)
	}
}

func TestWithRetryZeroPolicy(t *testing.T) {
	fp := &flakyPort{}
	if p := WithRetry(fp, RetryPolicy{}, nil); p != Port(fp) {
		t.Error("zero policy should return the port unchanged")
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsRetryable(transportErr()) {
		t.Error("transport errors should be retryable")
	}
	timeout := &TimedOutError{Argv: []string{"x"}, After: time.Second}
	if IsRetryable(timeout) || !IsTimeout(timeout) {
		t.Error("timeouts are not retryable but are timeouts")
	}
	if IsRetryable(nil) || ExitCode(nil) != 0 {
		t.Error("nil error classification")
	}
	if ExitCode(errors.New("x")) != -1 {
		t.Error("ExitCode of a plain error should be -1")
	}
}
