//go:build windows

package process

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Windows console operation lock to prevent race conditions
var consoleOperationLock sync.Mutex

// sendTerminationSignal sends Ctrl+Break to the plugin's process group.
func sendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	generateConsoleCtrlEvent, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := generateConsoleCtrlEvent.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return fmt.Errorf("failed to send Ctrl+Break to PID %d: %v", pid, err)
	}
	return nil
}

// killProcessGroup terminates the plugin process
func killProcessGroup(process *os.Process) error {
	return process.Kill()
}
