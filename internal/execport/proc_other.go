//go:build !unix

package execport

import (
	"fmt"
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalProcess(p *os.Process, sig Signal) error {
	if p == nil {
		return nil
	}
	switch sig {
	case SignalKill, SignalTerminate:
		return p.Kill()
	case SignalInterrupt:
		return p.Signal(os.Interrupt)
	default:
		return fmt.Errorf("signal %s not supported on this platform", sig)
	}
}
