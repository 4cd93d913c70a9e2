// Package unit defines what a loadable unit is: its qualified name, the
// metadata it declares, and the hooks the lifecycle engine invokes.
package unit

import (
	"context"

	"github.com/core-tools/hsu-extensions/pkg/logging"
)

// Metadata is declared by a unit at discovery time and never changes afterwards.
type Metadata struct {
	Name             string `yaml:"-"`
	EnabledByDefault bool   `yaml:"enabled_by_default"`
	UnloadProtected  bool   `yaml:"unload_protected"`
}

// Unit is one loaded instance. Setup is invoked on load; Teardown on unload.
// Both may fail; neither failure escapes the lifecycle engine.
type Unit interface {
	Setup(ctx context.Context, host Host) error
	Teardown(ctx context.Context) error
}

// Factory creates a fresh instance for every load, so a reload never
// reuses state from the previous instance.
type Factory func() Unit

// Handler is a named command group a unit attaches to the host.
type Handler interface {
	Name() string
	Handle(ctx context.Context, args []string) (string, error)
}

// Detacher is implemented by handlers that need cleanup when removed.
type Detacher interface {
	Detach(ctx context.Context) error
}

// Host is the view of the host process a unit receives in Setup.
type Host interface {
	Logger() logging.Logger
	AddHandler(handler Handler) error
	WaitUntilReady(ctx context.Context) error
}

// Funcs adapts plain functions to Unit. A nil function is a no-op.
type Funcs struct {
	SetupFunc    func(ctx context.Context, host Host) error
	TeardownFunc func(ctx context.Context) error
}

func (f Funcs) Setup(ctx context.Context, host Host) error {
	if f.SetupFunc == nil {
		return nil
	}
	return f.SetupFunc(ctx, host)
}

func (f Funcs) Teardown(ctx context.Context) error {
	if f.TeardownFunc == nil {
		return nil
	}
	return f.TeardownFunc(ctx)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	GroupName string
	Fn        func(ctx context.Context, args []string) (string, error)
}

func (h HandlerFunc) Name() string { return h.GroupName }

func (h HandlerFunc) Handle(ctx context.Context, args []string) (string, error) {
	return h.Fn(ctx, args)
}
