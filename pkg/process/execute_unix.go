//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes configures Unix-specific process attributes
func setupProcessAttributes(cmd *exec.Cmd) {
	// On Unix, create a new process group that we can signal as a whole,
	// so SIGTERM to -pid reaches the plugin and all of its children
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
