package host

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/batch"
	"github.com/core-tools/hsu-extensions/pkg/control"
	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/gate"
	"github.com/core-tools/hsu-extensions/pkg/lifecycle"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/process"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

type HostOptions struct {
	Port                 int
	ForceShutdownTimeout time.Duration
	GuildID              string
	ProbeURL             string
	PIDFile              string
	Extensions           ExtensionsConfig
	Plugins              PluginsConfig
}

// HostState represents the current state of the host
type HostState string

const (
	// HostStateNotStarted is the initial state before Start() is called
	HostStateNotStarted HostState = "not_started"

	// HostStateRunning means discovery is done and units can be managed
	HostStateRunning HostState = "running"

	// HostStateStopping means the shutdown sequence is in progress
	HostStateStopping HostState = "stopping"

	// HostStateStopped means the host has stopped
	HostStateStopped HostState = "stopped"
)

type Host struct {
	options      HostOptions
	server       corecontrol.Server
	logger       logging.Logger
	catalog      *unit.Catalog
	pluginSource *registry.DirSource
	registry     *registry.Registry
	handlers     *lifecycle.HandlerSet
	engine       *lifecycle.Engine
	extensions   *batch.Coordinator
	plugins      *batch.Coordinator
	environment  *gate.Gate
	session      *http.Client
	watchCleanup registry.WatchCleanupFunc
	pidWritten   bool
	hostState    HostState
	mutex        sync.Mutex
}

func NewHost(options HostOptions, catalog *unit.Catalog, coreLogger corelogging.Logger, hostLogger logging.Logger) (*Host, error) {
	// Create gRPC server
	serverOptions := corecontrol.ServerOptions{
		Port: options.Port,
	}

	server, err := corecontrol.NewServer(serverOptions, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create server", err)
	}

	// Register core services
	coreHandler := coredomain.NewDefaultHandler(coreLogger)
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	host := newHost(options, catalog, hostLogger)
	host.server = server

	// Register business logic services
	control.RegisterGRPCServerHandler(server.GRPC(), NewHostHandler(host, hostLogger), hostLogger)

	return host, nil
}

// newHost builds everything except the control server.
func newHost(options HostOptions, catalog *unit.Catalog, hostLogger logging.Logger) *Host {
	if options.Extensions.Namespace == "" {
		options.Extensions.Namespace = DefaultExtensionsNamespace
	}
	if options.Plugins.Namespace == "" {
		options.Plugins.Namespace = DefaultPluginsNamespace
	}

	h := &Host{
		options:     options,
		logger:      hostLogger,
		registry:    registry.New(),
		environment: gate.New(),
		session:     &http.Client{Timeout: 10 * time.Second},
		hostState:   HostStateNotStarted,
	}

	h.handlers = lifecycle.NewHandlerSet(logging.WithPrefix(hostLogger, "handlers: "))
	h.engine = lifecycle.NewEngine(h.registry, h.handlers, h.WaitUntilEnvironmentAvailable,
		logging.WithPrefix(hostLogger, "engine: "))

	h.extensions = batch.NewCoordinator(batch.CoordinatorOptions{
		Kind:      "extension",
		Namespace: options.Extensions.Namespace,
		Origin:    registry.OriginExtension,
		NoUnload:  options.Extensions.NoUnload,
	}, h.registry, h.engine, hostLogger)
	h.plugins = batch.NewCoordinator(batch.CoordinatorOptions{
		Kind:      "plugin",
		Namespace: options.Plugins.Namespace,
		Origin:    registry.OriginPlugin,
	}, h.registry, h.engine, hostLogger)

	h.catalog = unit.NewCatalog()
	if catalog != nil {
		h.catalog.Add(catalog.Descriptors()...)
	}
	h.catalog.Add(managerDescriptors(h)...)

	if options.Plugins.Directory != "" {
		h.pluginSource = &registry.DirSource{
			Root:      options.Plugins.Directory,
			Namespace: options.Plugins.Namespace,
			NewPlugin: process.NewPluginFactory(),
			Logger:    hostLogger,
		}
	}

	return h
}

// Start runs discovery and the startup load pass, then starts the control
// server. A failing default extension aborts startup; failing plugins are
// only logged.
func (h *Host) Start(ctx context.Context) error {
	h.logger.Infof("Starting host...")

	if state := h.getHostState(); state != HostStateNotStarted {
		return errors.NewValidationError(fmt.Sprintf("host cannot be started in state: %s", state), nil)
	}

	if h.options.PIDFile != "" {
		if err := checkPIDFile(h.options.PIDFile, h.logger); err != nil {
			return err
		}
	}

	sources := []registry.Source{registry.CatalogSource{Catalog: h.catalog, Origin: registry.OriginExtension}}
	if h.pluginSource != nil {
		sources = append(sources, h.pluginSource)
	}
	added := registry.Populate(h.registry, registry.Discover(ctx, h.logger, sources...), h.logger)
	h.logger.Infof("Discovery registered %d unit(s): %d extension(s), %d plugin(s)",
		added, len(h.registry.Names(registry.OriginExtension)), len(h.registry.Names(registry.OriginPlugin)))

	report := h.extensions.LoadDefaults(ctx)
	h.logger.Infof("Loaded %d/%d default extension(s)", report.Succeeded, report.Attempted)
	if len(report.Failures) > 0 {
		for _, name := range report.Failed() {
			h.logger.Errorf("Failed to load extension, name: %s, error: %s", name, report.Failures[name])
		}
		return errors.NewInternalError("failed to load default extensions", nil).WithContext("failures", report.Failed())
	}

	report = h.plugins.LoadDefaults(ctx)
	h.logger.Infof("Loaded %d/%d default plugin(s)", report.Succeeded, report.Attempted)
	for _, name := range report.Failed() {
		h.logger.Errorf("Failed to load plugin, name: %s, error: %s", name, report.Failures[name])
	}

	if h.options.Plugins.Watch && h.pluginSource != nil {
		if err := h.startWatcher(ctx); err != nil {
			h.logger.Errorf("Failed to watch plugin directory: %v", err)
		}
	}

	if h.options.PIDFile != "" {
		if err := writePIDFile(h.options.PIDFile, os.Getpid()); err != nil {
			h.logger.Errorf("Failed to write PID file, path: %s, error: %v", h.options.PIDFile, err)
		} else {
			h.pidWritten = true
		}
	}

	if h.server != nil {
		h.server.Start(ctx)
	}

	h.setHostState(HostStateRunning)

	h.logger.Infof("Host started")
	return nil
}

func (h *Host) startWatcher(ctx context.Context) error {
	watcher := &registry.Watcher{
		Source:   h.pluginSource,
		Registry: h.registry,
		Logger:   h.logger,
		OnAdded:  h.onPluginsAdded,
	}
	cleanup, err := watcher.Start(context.Background())
	if err != nil {
		return err
	}
	h.mutex.Lock()
	h.watchCleanup = cleanup
	h.mutex.Unlock()
	return nil
}

// onPluginsAdded loads newly discovered plugins that are enabled by default.
func (h *Host) onPluginsAdded(names []string) {
	var enabled []string
	for _, name := range names {
		if entry, exists := h.registry.Lookup(name); exists && entry.Metadata.EnabledByDefault {
			enabled = append(enabled, name)
		}
	}
	if len(enabled) == 0 || h.getHostState() != HostStateRunning {
		return
	}
	for _, outcome := range h.engine.ApplyAll(context.Background(), lifecycle.Load, enabled) {
		if !outcome.Succeeded() {
			h.logger.Errorf("Failed to load discovered plugin, name: %s, error: %v", outcome.Name, outcome.Err)
		}
	}
}

// Stop runs the shutdown sequence. Every step runs even if earlier ones fail:
// plugins are unloaded, then the remaining units, then all command groups are
// detached, then the HTTP session and the control server are released.
func (h *Host) Stop(ctx context.Context) error {
	h.logger.Infof("Stopping host...")

	h.setHostState(HostStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forcedShutdownTimeout := h.options.ForceShutdownTimeout
	if forcedShutdownTimeout <= 0 {
		forcedShutdownTimeout = DefaultForceShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, forcedShutdownTimeout)
	defer cancel()

	collection := errors.NewErrorCollection()

	h.mutex.Lock()
	watchCleanup := h.watchCleanup
	h.watchCleanup = nil
	h.mutex.Unlock()
	if watchCleanup != nil {
		h.shutdownStep("stop plugin watcher", collection, watchCleanup)
	}

	h.shutdownStep("unload plugins", collection, func() error {
		return h.unloadAll(ctx, "plugin", h.engine.Active(registry.OriginPlugin))
	})
	h.shutdownStep("unload extensions", collection, func() error {
		return h.unloadAll(ctx, "unit", h.engine.Active())
	})
	h.shutdownStep("detach handlers", collection, func() error {
		return h.handlers.DetachAll(ctx)
	})
	h.shutdownStep("close http session", collection, func() error {
		h.session.CloseIdleConnections()
		return nil
	})
	h.shutdownStep("shutdown control server", collection, func() error {
		if h.server != nil {
			h.server.Shutdown(ctx)
		}
		return nil
	})

	if h.pidWritten {
		if err := os.Remove(h.options.PIDFile); err != nil && !os.IsNotExist(err) {
			h.logger.Warnf("Failed to remove PID file, path: %s, error: %v", h.options.PIDFile, err)
		}
	}

	h.setHostState(HostStateStopped)

	h.logger.Infof("Host stopped")
	return collection.ToError()
}

func (h *Host) unloadAll(ctx context.Context, kind string, names []string) error {
	collection := errors.NewErrorCollection()
	for _, outcome := range h.engine.UnloadAll(ctx, names) {
		if !outcome.Succeeded() {
			h.logger.Errorf("Failed to unload %s, name: %s, error: %v", kind, outcome.Name, outcome.Err)
			collection.Add(outcome.Err)
		}
	}
	return collection.ToError()
}

// shutdownStep runs one shutdown step, recording its error and recovering
// from panics so that later steps always run.
func (h *Host) shutdownStep(name string, collection *errors.ErrorCollection, step func() error) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.NewInternalError("shutdown step panicked", nil).
				WithContext("step", name).
				WithContext("panic", r)
			h.logger.Errorf("Shutdown step panicked, step: %s, panic: %v", name, r)
			collection.Add(err)
		}
	}()

	if err := step(); err != nil {
		h.logger.Errorf("Shutdown step failed, step: %s, error: %v", name, err)
		collection.Add(err)
		return
	}
	h.logger.Debugf("Shutdown step done, step: %s", name)
}

// Dispatch routes a remote command to the named command group.
func (h *Host) Dispatch(ctx context.Context, group string, args []string) (string, error) {
	if state := h.getHostState(); state != HostStateRunning {
		return "", errors.NewValidationError(fmt.Sprintf("host must be running to dispatch commands, current state: %s", state), nil).
			WithContext("group", group)
	}
	return h.handlers.Dispatch(ctx, group, args)
}

// Status renders the listings of both unit kinds.
func (h *Host) Status(ctx context.Context) string {
	return "Extension List\n" + h.extensions.Status() + "\nPlugin List\n" + h.plugins.Status()
}

func (h *Host) Extensions() *batch.Coordinator {
	return h.extensions
}

func (h *Host) Plugins() *batch.Coordinator {
	return h.plugins
}

// ActiveUnits returns the names of every loaded unit, sorted.
func (h *Host) ActiveUnits() []string {
	return h.engine.Active()
}

// CommandGroups returns the names of every attached command group, sorted.
func (h *Host) CommandGroups() []string {
	return h.handlers.Names()
}

func (h *Host) GetHostState() HostState {
	return h.getHostState()
}

func (h *Host) getHostState() HostState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.hostState
}

func (h *Host) setHostState(state HostState) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.hostState = state
}
