package registry

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// Candidate is a leaf yielded by a Source. Declare reads the leaf's metadata
// declaration; a nil Declare means the leaf declares nothing.
type Candidate struct {
	Name    string
	Origin  Origin
	Source  string
	New     unit.Factory
	Declare func() (*unit.Metadata, error)
}

// Source enumerates the leaves of one unit namespace.
type Source interface {
	Enumerate(ctx context.Context) ([]Candidate, error)
}

// Discover walks every source and returns the discovered entries by name.
// It never fails: a source that cannot be enumerated and a leaf that cannot
// be registered are logged and skipped, and a leaf whose metadata cannot be
// read is registered with EnabledByDefault and UnloadProtected both false.
func Discover(ctx context.Context, logger logging.Logger, sources ...Source) map[string]Entry {
	entries := make(map[string]Entry)

	for _, source := range sources {
		candidates, err := source.Enumerate(ctx)
		if err != nil {
			logger.Warnf("Skipping unit source %T: %v", source, err)
			continue
		}

		for _, candidate := range candidates {
			name := unit.Canonical(candidate.Name)

			if err := unit.ValidateName(name); err != nil {
				logger.Warnf("Skipping malformed unit %q from %s: %v", candidate.Name, candidate.Source, err)
				continue
			}
			if candidate.New == nil {
				logger.Warnf("Skipping unit %s from %s: no factory", name, candidate.Source)
				continue
			}
			if previous, exists := entries[name]; exists {
				logger.Warnf("Skipping duplicate unit %s from %s, already discovered from %s", name, candidate.Source, previous.Source)
				continue
			}

			metadata := declareMetadata(candidate, logger)
			metadata.Name = name

			entries[name] = Entry{
				Metadata: metadata,
				Origin:   candidate.Origin,
				Source:   candidate.Source,
				New:      candidate.New,
			}
			logger.Debugf("Discovered unit %s, enabled_by_default: %t, unload_protected: %t",
				name, metadata.EnabledByDefault, metadata.UnloadProtected)
		}
	}

	return entries
}

// Populate registers discovered entries and returns how many were added.
func Populate(registry *Registry, entries map[string]Entry, logger logging.Logger) int {
	added := 0
	for _, name := range sortedKeys(entries) {
		if err := registry.Add(entries[name]); err != nil {
			logger.Warnf("Not registering unit %s: %v", name, err)
			continue
		}
		added++
	}
	return added
}

func declareMetadata(candidate Candidate, logger logging.Logger) (metadata unit.Metadata) {
	if candidate.Declare == nil {
		logger.Warnf("Unit %s declares no metadata, using defaults", candidate.Name)
		return unit.Metadata{}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("Unit %s metadata declaration panicked, using defaults: %v", candidate.Name, r)
			metadata = unit.Metadata{}
		}
	}()

	declared, err := candidate.Declare()
	if err != nil {
		logger.Warnf("Unit %s has unreadable metadata, using defaults: %v", candidate.Name, err)
		return unit.Metadata{}
	}
	if declared == nil {
		logger.Warnf("Unit %s declares no metadata, using defaults", candidate.Name)
		return unit.Metadata{}
	}
	return *declared
}

// CatalogSource enumerates a compiled-in catalog.
type CatalogSource struct {
	Catalog *unit.Catalog
	Origin  Origin
}

func (s CatalogSource) Enumerate(ctx context.Context) ([]Candidate, error) {
	if s.Catalog == nil {
		return nil, fmt.Errorf("catalog is nil")
	}

	origin := s.Origin
	if origin == "" {
		origin = OriginExtension
	}

	descriptors := s.Catalog.Descriptors()
	candidates := make([]Candidate, 0, len(descriptors))
	for _, descriptor := range descriptors {
		candidate := Candidate{
			Name:   descriptor.Name,
			Origin: origin,
			Source: "catalog",
			New:    descriptor.New,
		}
		if descriptor.Metadata != nil {
			declared := *descriptor.Metadata
			candidate.Declare = func() (*unit.Metadata, error) { return &declared, nil }
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}
