// Package lifecycle owns the active-unit set and applies load, unload and
// reload transitions to one unit at a time.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// Units is the registry view the engine needs.
type Units interface {
	Lookup(name string) (registry.Entry, bool)
}

// ReadyFunc blocks until the external environment is ready.
type ReadyFunc func(ctx context.Context) error

type activeUnit struct {
	instance unit.Unit
	origin   registry.Origin
}

// Engine is the only writer of the active-unit set. Every public method holds
// the engine lock for its whole duration, so lifecycle operations never
// interleave.
type Engine struct {
	units    Units
	handlers *HandlerSet
	ready    ReadyFunc
	logger   logging.Logger
	active   map[string]*activeUnit
	mutex    sync.Mutex
}

func NewEngine(units Units, handlers *HandlerSet, ready ReadyFunc, logger logging.Logger) *Engine {
	return &Engine{
		units:    units,
		handlers: handlers,
		ready:    ready,
		logger:   logger,
		active:   make(map[string]*activeUnit),
	}
}

func (e *Engine) Load(ctx context.Context, name string) Outcome {
	return e.Apply(ctx, Load, name)
}

func (e *Engine) Unload(ctx context.Context, name string) Outcome {
	return e.Apply(ctx, Unload, name)
}

func (e *Engine) Reload(ctx context.Context, name string) Outcome {
	return e.Apply(ctx, Reload, name)
}

// Apply performs action on a single unit.
func (e *Engine) Apply(ctx context.Context, action Action, name string) Outcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.apply(ctx, action, name)
}

// ApplyAll performs action on every name in the given order. Each unit is
// independent: a failure never stops the ones after it. If ctx is cancelled
// part way, the remaining units are reported as cancelled without being
// touched, so exactly one outcome is returned per name.
func (e *Engine) ApplyAll(ctx context.Context, action Action, names []string) []Outcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		outcomes = append(outcomes, e.apply(ctx, action, name))
	}
	return outcomes
}

// UnloadAll unloads every name even once ctx is done, so no unit is left
// active. Each teardown still receives ctx and can cut its own work short.
func (e *Engine) UnloadAll(ctx context.Context, names []string) []Outcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		outcomes = append(outcomes, e.unload(ctx, name))
	}
	return outcomes
}

func (e *Engine) apply(ctx context.Context, action Action, name string) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{
			Name:   name,
			Action: action,
			Status: StatusCancelled,
			Err:    errors.NewCancelledError(action.String()+" was cancelled", err).WithContext("unit", name),
		}
	}

	switch action {
	case Load:
		return e.load(ctx, name)
	case Unload:
		return e.unload(ctx, name)
	case Reload:
		return e.reload(ctx, name)
	default:
		return Outcome{
			Name:   name,
			Action: action,
			Status: StatusHookFailed,
			Err:    errors.NewValidationError("unknown action", nil).WithContext("action", int(action)),
		}
	}
}

func (e *Engine) load(ctx context.Context, name string) Outcome {
	outcome := Outcome{Name: name, Action: Load}

	if _, loaded := e.active[name]; loaded {
		outcome.Status = StatusAlreadyLoaded
		outcome.Err = errors.NewAlreadyLoadedError(name)
		return outcome
	}

	entry, exists := e.units.Lookup(name)
	if !exists {
		outcome.Status = StatusNotRegistered
		outcome.Err = errors.NewNotFoundError("unit not registered", nil).WithContext("unit", name)
		return outcome
	}

	e.logger.Infof("Loading unit, name: %s, origin: %s", name, entry.Origin)

	instance := entry.New()
	if instance == nil {
		outcome.Status = StatusHookFailed
		outcome.Err = errors.NewHookError("load", name, fmt.Errorf("factory returned no unit"))
		e.logger.Errorf("Failed to load unit, name: %s, error: %v", name, outcome.Err)
		return outcome
	}

	host := &unitHost{
		engine: e,
		owner:  name,
		logger: logging.WithPrefix(e.logger, "unit: "+name+" , "),
	}
	if err := callHook(func() error { return instance.Setup(ctx, host) }); err != nil {
		// handlers attached before the failure must not outlive the unit
		if detachErr := e.handlers.RemoveOwner(ctx, name); detachErr != nil {
			e.logger.Warnf("Failed to roll back handlers, name: %s, error: %v", name, detachErr)
		}
		outcome.Status = StatusHookFailed
		outcome.Err = errors.NewHookError("load", name, err)
		e.logger.Errorf("Failed to load unit, name: %s, error: %v", name, err)
		return outcome
	}

	e.active[name] = &activeUnit{instance: instance, origin: entry.Origin}
	outcome.Status = StatusOK

	e.logger.Infof("Unit loaded, name: %s", name)
	return outcome
}

// unload always removes the unit from the active set once it was loaded.
// A failing teardown is reported in the outcome and logged, never re-raised.
func (e *Engine) unload(ctx context.Context, name string) Outcome {
	outcome := Outcome{Name: name, Action: Unload}

	current, loaded := e.active[name]
	if !loaded {
		outcome.Status = StatusNotLoaded
		outcome.Err = errors.NewNotLoadedError(name)
		return outcome
	}

	e.logger.Infof("Unloading unit, name: %s", name)

	collection := errors.NewErrorCollection()
	collection.Add(e.handlers.RemoveOwner(ctx, name))
	collection.Add(callHook(func() error { return current.instance.Teardown(ctx) }))

	delete(e.active, name)

	if err := collection.ToError(); err != nil {
		var cause error = err
		if len(collection.Errors) == 1 {
			cause = collection.Errors[0]
		}
		outcome.Status = StatusHookFailed
		outcome.Err = errors.NewHookError("unload", name, cause)
		e.logger.Errorf("Unit unloaded with errors, name: %s, error: %v", name, cause)
		return outcome
	}

	outcome.Status = StatusOK
	e.logger.Infof("Unit unloaded, name: %s", name)
	return outcome
}

// reload of an absent unit is a plain load. Otherwise the unit is unloaded and
// loaded again with a fresh instance; if that load fails the unit stays unloaded.
func (e *Engine) reload(ctx context.Context, name string) Outcome {
	if _, loaded := e.active[name]; !loaded {
		e.logger.Debugf("Unit not loaded, reload falls back to load, name: %s", name)
		outcome := e.load(ctx, name)
		outcome.Action = Reload
		outcome.FellBack = true
		return outcome
	}

	unloaded := e.unload(ctx, name)
	if !unloaded.Succeeded() {
		e.logger.Warnf("Continuing reload after failed teardown, name: %s, error: %v", name, unloaded.Err)
	}

	if err := ctx.Err(); err != nil {
		return Outcome{
			Name:   name,
			Action: Reload,
			Status: StatusCancelled,
			Err:    errors.NewCancelledError("reload was cancelled after unload", err).WithContext("unit", name),
		}
	}

	outcome := e.load(ctx, name)
	outcome.Action = Reload
	return outcome
}

// Active returns the names of loaded units, sorted. When origins are given
// only units from those origins are returned.
func (e *Engine) Active(origins ...registry.Origin) []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	names := make([]string, 0, len(e.active))
	for name, current := range e.active {
		if len(origins) > 0 && !containsOrigin(origins, current.origin) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) IsLoaded(name string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	_, loaded := e.active[name]
	return loaded
}

func containsOrigin(origins []registry.Origin, origin registry.Origin) bool {
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}

// callHook runs unit code, turning a panic into an error.
func callHook(hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook()
}

// unitHost is the host view handed to one unit. Handlers it attaches are
// recorded as owned by that unit.
type unitHost struct {
	engine *Engine
	owner  string
	logger logging.Logger
}

func (h *unitHost) Logger() logging.Logger {
	return h.logger
}

func (h *unitHost) AddHandler(handler unit.Handler) error {
	return h.engine.handlers.Add(h.owner, handler)
}

func (h *unitHost) WaitUntilReady(ctx context.Context) error {
	if h.engine.ready == nil {
		return nil
	}
	return h.engine.ready(ctx)
}
