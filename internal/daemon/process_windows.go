//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

func detach(cmd *exec.Cmd) {}

// processExists trusts the pid file; Windows has no signal-0 check.
func processExists(pid int) bool {
	return pid > 0
}

// signalTerm kills the process; Windows has no SIGTERM.
func signalTerm(proc *os.Process) error {
	return proc.Kill()
}
