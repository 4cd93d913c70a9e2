//go:build !windows

package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/unit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func createTestLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

// lineRecorder captures Infof lines written from the output goroutine.
type lineRecorder struct {
	mutex sync.Mutex
	lines []string
}

func (r *lineRecorder) logger() logging.Logger {
	discard := func(string, ...interface{}) {}
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: discard,
		Infof: func(format string, args ...interface{}) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			r.lines = append(r.lines, fmt.Sprintf(format, args...))
		},
		Warnf:  discard,
		Errorf: discard,
	})
}

func (r *lineRecorder) contains(line string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, l := range r.lines {
		if l == line {
			return true
		}
	}
	return false
}

type testHost struct {
	logger logging.Logger
}

func (h *testHost) Logger() logging.Logger                    { return h.logger }
func (h *testHost) AddHandler(handler unit.Handler) error     { return nil }
func (h *testHost) WaitUntilReady(ctx context.Context) error { return nil }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestPlugin_SetupAndTeardown(t *testing.T) {
	script := writeScript(t, `trap 'exit 0' TERM
echo "plugin started"
while true; do sleep 0.1; done
`)
	recorder := &lineRecorder{}

	factory := NewPluginFactory()("hsu.plugins.looper", script, registry.PluginManifest{WaitDelay: 3 * time.Second})
	instance := factory()
	plugin, ok := instance.(*Plugin)
	require.True(t, ok)

	require.NoError(t, plugin.Setup(context.Background(), &testHost{logger: recorder.logger()}))
	pid := plugin.PID()
	require.NotZero(t, pid)

	require.Eventually(t, func() bool {
		return recorder.contains("plugin started")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, plugin.Teardown(context.Background()))
	assert.False(t, processAlive(pid))
}

func TestPlugin_TeardownKillsAfterWaitDelay(t *testing.T) {
	script := writeScript(t, `trap '' TERM
while true; do sleep 0.1; done
`)

	plugin := NewPlugin("hsu.plugins.stubborn", ExecutionConfig{ExecutablePath: script, WaitDelay: 200 * time.Millisecond})
	require.NoError(t, plugin.Setup(context.Background(), &testHost{logger: createTestLogger()}))

	err := plugin.Teardown(context.Background())

	assert.True(t, errors.IsProcessError(err))
}

func TestPlugin_TeardownAfterExit(t *testing.T) {
	script := writeScript(t, "exit 3\n")

	plugin := NewPlugin("hsu.plugins.short", ExecutionConfig{ExecutablePath: script})
	require.NoError(t, plugin.Setup(context.Background(), &testHost{logger: createTestLogger()}))

	require.Eventually(t, func() bool {
		select {
		case <-plugin.done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	assert.NoError(t, plugin.Teardown(context.Background()))
}

func TestPlugin_SetupFailsForMissingExecutable(t *testing.T) {
	plugin := NewPlugin("hsu.plugins.ghost", ExecutionConfig{ExecutablePath: filepath.Join(t.TempDir(), "ghost")})

	err := plugin.Setup(context.Background(), &testHost{logger: createTestLogger()})

	assert.True(t, errors.IsValidationError(err))
	assert.NoError(t, plugin.Teardown(context.Background()))
}
