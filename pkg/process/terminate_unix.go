//go:build !windows

package process

import (
	"os"
	"syscall"
)

// sendTerminationSignal sends SIGTERM to the process group on Unix systems
func sendTerminationSignal(pid int) error {
	// Negative PID addresses the whole group
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the whole group
func killProcessGroup(process *os.Process) error {
	return syscall.Kill(-process.Pid, syscall.SIGKILL)
}
