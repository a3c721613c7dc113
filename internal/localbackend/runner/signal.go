//go:build linux

package runner

import (
	"os"
	"syscall"

	"github.com/jsturma/launcher-plugin/internal/protocol"
)

func signalProcess(proc *os.Process, operation protocol.ControlOperation) error {
	sig := syscall.SIGTERM
	if operation == protocol.OpKill {
		sig = syscall.SIGKILL
	}
	return proc.Signal(sig)
}

func suspendProcess(proc *os.Process) error {
	return proc.Signal(syscall.SIGSTOP)
}

func resumeProcess(proc *os.Process) error {
	return proc.Signal(syscall.SIGCONT)
}
