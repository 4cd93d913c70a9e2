// Package resolve turns user-supplied unit names into registered qualified names.
package resolve

import (
	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// Names is the set of registered qualified names a Resolver matches against.
type Names interface {
	Contains(name string) bool
	Names() []string
}

type Resolver struct {
	names            func() []string
	contains         func(string) bool
	defaultNamespace string
}

// NewResolver resolves against a fixed list of canonical qualified names.
func NewResolver(names []string, defaultNamespace string) *Resolver {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	snapshot := append([]string(nil), names...)
	return &Resolver{
		names: func() []string { return snapshot },
		contains: func(name string) bool {
			_, ok := set[name]
			return ok
		},
		defaultNamespace: defaultNamespace,
	}
}

// NewLiveResolver resolves against a source that may grow over time.
func NewLiveResolver(source Names, defaultNamespace string) *Resolver {
	return &Resolver{
		names:            source.Names,
		contains:         source.Contains,
		defaultNamespace: defaultNamespace,
	}
}

// Resolve returns the single registered name raw refers to. Wildcard markers
// pass through unchanged. Matching is case-insensitive and tries, in order:
// the exact qualified name, the name under the default namespace, then the
// leaf segment of every registered name.
func (r *Resolver) Resolve(raw string) (string, error) {
	if unit.IsWildcard(raw) {
		return raw, nil
	}

	argument := unit.Canonical(raw)
	if argument == "" {
		return "", errors.NewValidationError("unit name cannot be empty", nil)
	}

	if r.contains(argument) {
		return argument, nil
	}

	if r.defaultNamespace != "" {
		qualified := unit.Join(r.defaultNamespace, argument)
		if r.contains(qualified) {
			return qualified, nil
		}
	}

	var matches []string
	for _, name := range r.names() {
		if unit.Leaf(name) == argument {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", errors.NewNotFoundError("unit not found", nil).WithContext("raw", raw)
	case 1:
		return matches[0], nil
	default:
		return "", errors.NewAmbiguousError(argument, matches)
	}
}

// ResolveAll resolves every raw name, stopping at the first failure.
func (r *Resolver) ResolveAll(raws []string) ([]string, error) {
	resolved := make([]string, 0, len(raws))
	for _, raw := range raws {
		name, err := r.Resolve(raw)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, name)
	}
	return resolved, nil
}
