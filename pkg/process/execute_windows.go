//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the plugin in its own process group so that
// Ctrl+Break can be delivered to it without reaching the host.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
