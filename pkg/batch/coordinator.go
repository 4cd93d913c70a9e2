// Package batch applies one lifecycle action to a set of units named by a
// user, expanding wildcards and isolating per-unit failures.
package batch

import (
	"context"
	"sort"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/lifecycle"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/registry"
	"github.com/core-tools/hsu-extensions/pkg/resolve"
	"github.com/core-tools/hsu-extensions/pkg/status"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

type CoordinatorOptions struct {
	// Kind is the user-facing word for a unit: "extension" or "plugin".
	Kind      string
	Namespace string
	Origin    registry.Origin
	// NoUnload lists names that may not be unloaded in addition to the
	// units declaring unload protection themselves.
	NoUnload []string
}

// Coordinator serves one unit kind. All state changes go through the engine.
type Coordinator struct {
	options  CoordinatorOptions
	registry *registry.Registry
	engine   *lifecycle.Engine
	resolver *resolve.Resolver
	noUnload map[string]struct{}
	logger   logging.Logger
}

func NewCoordinator(options CoordinatorOptions, reg *registry.Registry, engine *lifecycle.Engine, logger logging.Logger) *Coordinator {
	noUnload := make(map[string]struct{}, len(options.NoUnload))
	for _, name := range options.NoUnload {
		noUnload[unit.Canonical(name)] = struct{}{}
	}
	return &Coordinator{
		options:  options,
		registry: reg,
		engine:   engine,
		resolver: resolve.NewLiveResolver(originView{registry: reg, origin: options.Origin}, options.Namespace),
		noUnload: noUnload,
		logger:   logger,
	}
}

func (c *Coordinator) Kind() string {
	return c.options.Kind
}

// IsProtected reports whether name may not be unloaded or reloaded by command.
func (c *Coordinator) IsProtected(name string) bool {
	if _, listed := c.noUnload[name]; listed {
		return true
	}
	entry, exists := c.registry.Lookup(name)
	return exists && entry.Metadata.UnloadProtected
}

// Apply resolves raws, expands wildcards and runs action on every resulting
// unit. Resolution and protection errors reject the whole command before any
// unit is touched; per-unit failures are reported, never returned.
func (c *Coordinator) Apply(ctx context.Context, action lifecycle.Action, raws []string) (*Report, error) {
	if len(raws) == 0 {
		return nil, errors.NewValidationError("no "+c.options.Kind+" names given", nil)
	}

	resolved, err := c.resolver.ResolveAll(raws)
	if err != nil {
		return nil, err
	}

	if action != lifecycle.Load {
		var blocked []string
		for _, name := range resolved {
			if !unit.IsWildcard(name) && c.IsProtected(name) {
				blocked = append(blocked, name)
			}
		}
		if len(blocked) > 0 {
			return nil, errors.NewProtectedError(dedupe(blocked))
		}
	}

	names := c.expand(action, resolved)
	c.logger.Debugf("Applying %s to %d %s(s): %v", action, len(names), c.options.Kind, names)

	outcomes := c.engine.ApplyAll(ctx, action, names)
	return newReport(action, c.options.Kind, outcomes), nil
}

// expand replaces wildcard markers with concrete names and returns the
// deduplicated set in sorted order.
func (c *Coordinator) expand(action lifecycle.Action, resolved []string) []string {
	wildcardLoaded, wildcardAll := false, false
	var explicit []string
	for _, name := range resolved {
		switch name {
		case unit.WildcardLoaded:
			wildcardLoaded = true
		case unit.WildcardAll:
			wildcardAll = true
		default:
			explicit = append(explicit, name)
		}
	}
	if !wildcardLoaded && !wildcardAll {
		return dedupe(explicit)
	}

	registered := c.registry.Names(c.options.Origin)
	loaded := c.engine.Active(c.options.Origin)

	switch action {
	case lifecycle.Load:
		return c.filter(registered, func(name string) bool { return !c.engine.IsLoaded(name) })
	case lifecycle.Unload:
		return c.filter(loaded, c.unprotected)
	default:
		if wildcardAll {
			return c.filter(registered, c.unprotected)
		}
		return dedupe(append(explicit, c.filter(loaded, c.unprotected)...))
	}
}

func (c *Coordinator) unprotected(name string) bool {
	return !c.IsProtected(name)
}

func (c *Coordinator) filter(names []string, keep func(string) bool) []string {
	result := make([]string, 0, len(names))
	for _, name := range names {
		if keep(name) {
			result = append(result, name)
		}
	}
	return dedupe(result)
}

// Status renders the listing of every registered unit of this kind.
func (c *Coordinator) Status() string {
	return status.Render(c.options.Kind, c.registry.Names(c.options.Origin), c.engine.IsLoaded)
}

// LoadDefaults loads every unit of this kind that is enabled by default.
func (c *Coordinator) LoadDefaults(ctx context.Context) *Report {
	var names []string
	for _, entry := range c.registry.Entries(c.options.Origin) {
		if entry.Metadata.EnabledByDefault {
			names = append(names, entry.Metadata.Name)
		}
	}
	return newReport(lifecycle.Load, c.options.Kind, c.engine.ApplyAll(ctx, lifecycle.Load, dedupe(names)))
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// originView restricts a registry to one origin for name resolution.
type originView struct {
	registry *registry.Registry
	origin   registry.Origin
}

func (v originView) Contains(name string) bool {
	entry, exists := v.registry.Lookup(name)
	return exists && entry.Origin == v.origin
}

func (v originView) Names() []string {
	return v.registry.Names(v.origin)
}
