// Package process runs plugins as child processes: loading a plugin starts
// its executable, unloading it signals the process group and waits.
package process

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

const defaultWaitDelay = 5 * time.Second

// NewPluginFactory returns the factory used by the plugin directory source.
func NewPluginFactory() registry.PluginFactory {
	return func(name string, executablePath string, manifest registry.PluginManifest) unit.Factory {
		execution := ExecutionConfig{
			ExecutablePath:   executablePath,
			Args:             manifest.Args,
			Environment:      manifest.Environment,
			WorkingDirectory: manifest.WorkingDirectory,
			WaitDelay:        manifest.WaitDelay,
		}
		return func() unit.Unit {
			return NewPlugin(name, execution)
		}
	}
}

// Plugin is one running instance of a plugin executable.
type Plugin struct {
	name      string
	execution ExecutionConfig
	logger    logging.Logger
	cmd       *exec.Cmd
	done      chan struct{}
	stopping  atomic.Bool
	mutex     sync.Mutex
}

func NewPlugin(name string, execution ExecutionConfig) *Plugin {
	return &Plugin{name: name, execution: execution}
}

func (p *Plugin) Setup(ctx context.Context, host unit.Host) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger = host.Logger()

	cmd, stdout, err := Execute(p.execution, p.name, p.logger)
	if err != nil {
		return err
	}
	p.cmd = cmd
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		// all output must be consumed before Wait
		forwardOutput(stdout, p.logger)
		err := cmd.Wait()
		if !p.stopping.Load() {
			p.logger.Warnf("Plugin process exited unexpectedly, PID: %d, error: %v", cmd.Process.Pid, err)
		}
	}()
	return nil
}

// Teardown sends the termination signal and waits up to the wait delay
// before killing the process.
func (p *Plugin) Teardown(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cmd == nil {
		return nil
	}
	p.stopping.Store(true)

	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.cmd.Process.Pid
	p.logger.Infof("Terminating plugin process, PID: %d", pid)

	if err := sendTerminationSignal(pid); err != nil {
		p.logger.Warnf("Failed to send termination signal, PID: %d, error: %v", pid, err)
	}

	waitDelay := p.execution.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}
	timer := time.NewTimer(waitDelay)
	defer timer.Stop()

	select {
	case <-p.done:
		p.logger.Infof("Plugin process exited, PID: %d", pid)
		return nil
	case <-timer.C:
		p.kill()
		return errors.NewProcessError("plugin process did not exit in time and was killed", nil).
			WithContext("pid", pid).
			WithContext("wait_delay", waitDelay.String())
	case <-ctx.Done():
		p.kill()
		return errors.NewCancelledError("plugin termination was cancelled, process killed", ctx.Err()).WithContext("pid", pid)
	}
}

func (p *Plugin) kill() {
	if err := killProcessGroup(p.cmd.Process); err != nil {
		p.logger.Warnf("Failed to kill plugin process, PID: %d, error: %v", p.cmd.Process.Pid, err)
	}
	<-p.done
}

// PID returns the process ID of the running plugin, or 0.
func (p *Plugin) PID() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
