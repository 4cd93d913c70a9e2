package registry

import (
	"sort"
	"sync"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

// Origin tells which discovery source a unit came from.
type Origin string

const (
	OriginExtension Origin = "extension"
	OriginPlugin    Origin = "plugin"
)

// Entry is one registered unit.
type Entry struct {
	Metadata unit.Metadata
	Origin   Origin
	Source   string
	New      unit.Factory
}

// Registry maps qualified unit names to their entries. It is append-only:
// entries are never replaced or removed while the process runs.
type Registry struct {
	mutex   sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Add registers a single entry. A second registration of the same name is a conflict.
func (r *Registry) Add(entry Entry) error {
	name := entry.Metadata.Name
	if err := unit.ValidateName(name); err != nil {
		return err
	}
	if entry.New == nil {
		return errors.NewValidationError("unit factory cannot be nil", nil).WithContext("unit", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.NewConflictError("unit already registered", nil).WithContext("unit", name)
	}
	r.entries[name] = entry
	return nil
}

// AddMissing registers every entry whose name is not yet known and returns
// the sorted names that were added.
func (r *Registry) AddMissing(entries map[string]Entry) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	added := make([]string, 0)
	for name, entry := range entries {
		if _, exists := r.entries[name]; exists {
			continue
		}
		if entry.New == nil || unit.ValidateName(name) != nil {
			continue
		}
		r.entries[name] = entry
		added = append(added, name)
	}
	sort.Strings(added)
	return added
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, exists := r.entries[name]
	return entry, exists
}

func (r *Registry) Contains(name string) bool {
	_, exists := r.Lookup(name)
	return exists
}

// Names returns the sorted names of the given origins, or all names when
// no origin is given.
func (r *Registry) Names(origins ...Origin) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name, entry := range r.entries {
		if matchesOrigin(entry.Origin, origins) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Entries returns a snapshot of the registered entries of the given origins.
func (r *Registry) Entries(origins ...Origin) []Entry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		if matchesOrigin(entry.Origin, origins) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Metadata.Name < entries[j].Metadata.Name
	})
	return entries
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

func matchesOrigin(origin Origin, origins []Origin) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}
