package host

import (
	"os"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/process"

	"github.com/google/renameio/v2"
)

// checkPIDFile fails if the PID file names another live process. A stale or
// unreadable file is left for writePIDFile to replace.
func checkPIDFile(path string, logger logging.Logger) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.NewIOError("failed to read PID file", err).WithContext("path", path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		logger.Warnf("Ignoring malformed PID file, path: %s", path)
		return nil
	}
	if pid == os.Getpid() {
		return nil
	}

	running, err := process.IsRunning(pid)
	if err != nil {
		logger.Warnf("Cannot tell whether PID %d is alive, path: %s, error: %v", pid, path, err)
		return nil
	}
	if running {
		return errors.NewConflictError("another host is already running", nil).
			WithContext("path", path).
			WithContext("pid", pid)
	}

	logger.Infof("Replacing stale PID file, path: %s, pid: %d", path, pid)
	return nil
}

// writePIDFile replaces the file atomically so readers never see a partial PID.
func writePIDFile(path string, pid int) error {
	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("path", path)
	}
	return nil
}
