package execport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by ports and handles.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, execport.ErrTimedOut) {
//	    // the duration bound was exceeded and the process was stopped
//	}
var (
	// ErrTimedOut is returned when a command exceeds its duration bound.
	ErrTimedOut = errors.New("command timed out")

	// ErrTransport is returned when the execution channel itself fails
	// (lost SSH session, failed dial), as opposed to the command failing.
	ErrTransport = errors.New("transport failure")

	// ErrNonZeroExit is returned by Exec when the command exits with a
	// non-zero status and the command does not allow failure.
	ErrNonZeroExit = errors.New("non-zero exit status")

	// ErrStillRunning is returned by Handle.Wait when its timeout elapses
	// before the process exits.
	ErrStillRunning = errors.New("process still running")

	// ErrClosed is returned when a port is used after Close.
	ErrClosed = errors.New("port closed")

	// ErrEmptyCommand is returned when a command has no argv.
	ErrEmptyCommand = errors.New("empty command")
)

// TimedOutError reports a command stopped at its duration bound.
type TimedOutError struct {
	Argv   []string
	After  time.Duration
	Killed bool // true if the graceful stop was ignored and the process was killed
}

func (e *TimedOutError) Error() string {
	how := "stopped"
	if e.Killed {
		how = "killed"
	}
	return fmt.Sprintf("%s timed out after %s (%s)", commandName(e.Argv), e.After, how)
}

func (e *TimedOutError) Is(target error) bool {
	return target == ErrTimedOut
}

// TransportError wraps a failure of the execution channel.
type TransportError struct {
	Port string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Port, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Argv   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", commandName(e.Argv), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > 512 {
			s = "..." + s[len(s)-512:]
		}
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}

// IsRetryable returns true if the error is likely to succeed on retry.
// Only transport failures qualify: a command that ran and failed, or timed
// out, would fail the same way again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransport)
}

// IsTimeout returns true if err reports an exceeded duration bound.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

// ExitCode returns the exit status carried by err, 0 for nil and -1 when
// err is not an ExitError.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func commandName(argv []string) string {
	if len(argv) == 0 {
		return "command"
	}
	return fmt.Sprintf("%q", argv[0])
}
