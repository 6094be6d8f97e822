//go:build unix

package execport

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess signals the process group led by p.
func signalProcess(p *os.Process, sig Signal) error {
	if p == nil {
		return nil
	}
	s := unixSignal(sig)
	err := unix.Kill(-p.Pid, s)
	if errors.Is(err, unix.ESRCH) {
		// Group already gone; try the leader alone.
		err = unix.Kill(p.Pid, s)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func unixSignal(sig Signal) unix.Signal {
	switch sig {
	case SignalInterrupt:
		return unix.SIGINT
	case SignalKill:
		return unix.SIGKILL
	case SignalStop:
		return unix.SIGSTOP
	case SignalContinue:
		return unix.SIGCONT
	default:
		return unix.SIGTERM
	}
}
