package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/core-tools/hsu-extensions/pkg/errors"
	"github.com/core-tools/hsu-extensions/pkg/logging"
	"github.com/core-tools/hsu-extensions/pkg/unit"
)

type ownedHandler struct {
	owner   string
	handler unit.Handler
}

// HandlerSet holds the command groups attached by loaded units, keyed by
// group name and tagged with the unit that owns them.
type HandlerSet struct {
	handlers map[string]ownedHandler
	mutex    sync.RWMutex
	logger   logging.Logger
}

func NewHandlerSet(logger logging.Logger) *HandlerSet {
	return &HandlerSet{
		handlers: make(map[string]ownedHandler),
		logger:   logger,
	}
}

// Add attaches handler on behalf of owner. Group names are case-insensitive
// and must be unique across all owners.
func (s *HandlerSet) Add(owner string, handler unit.Handler) error {
	if handler == nil {
		return errors.NewValidationError("handler cannot be nil", nil).WithContext("owner", owner)
	}
	name := unit.Canonical(handler.Name())
	if name == "" {
		return errors.NewValidationError("handler name cannot be empty", nil).WithContext("owner", owner)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, exists := s.handlers[name]; exists {
		return errors.NewConflictError("handler already registered", nil).
			WithContext("handler", name).
			WithContext("owner", existing.owner)
	}
	s.handlers[name] = ownedHandler{owner: owner, handler: handler}

	s.logger.Debugf("Handler added, name: %s, owner: %s", name, owner)
	return nil
}

// Remove detaches a single handler.
func (s *HandlerSet) Remove(ctx context.Context, name string) error {
	name = unit.Canonical(name)

	s.mutex.Lock()
	entry, exists := s.handlers[name]
	delete(s.handlers, name)
	s.mutex.Unlock()

	if !exists {
		return errors.NewNotFoundError("handler not found", nil).WithContext("handler", name)
	}
	return s.detach(ctx, name, entry)
}

// RemoveOwner detaches every handler owned by owner, in name order. Every
// handler is removed even when some fail to detach.
func (s *HandlerSet) RemoveOwner(ctx context.Context, owner string) error {
	s.mutex.Lock()
	var removed []string
	entries := make(map[string]ownedHandler)
	for name, entry := range s.handlers {
		if entry.owner == owner {
			removed = append(removed, name)
			entries[name] = entry
			delete(s.handlers, name)
		}
	}
	s.mutex.Unlock()

	sort.Strings(removed)
	collection := errors.NewErrorCollection()
	for _, name := range removed {
		collection.Add(s.detach(ctx, name, entries[name]))
	}
	return collection.ToError()
}

// DetachAll removes every handler regardless of owner. Failures are logged
// and collected; iteration always completes.
func (s *HandlerSet) DetachAll(ctx context.Context) error {
	s.mutex.Lock()
	entries := s.handlers
	s.handlers = make(map[string]ownedHandler)
	s.mutex.Unlock()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	collection := errors.NewErrorCollection()
	for _, name := range names {
		if err := s.detach(ctx, name, entries[name]); err != nil {
			s.logger.Errorf("Failed to detach handler, name: %s, owner: %s, error: %v", name, entries[name].owner, err)
			collection.Add(err)
		}
	}
	return collection.ToError()
}

func (s *HandlerSet) detach(ctx context.Context, name string, entry ownedHandler) (err error) {
	detacher, ok := entry.handler.(unit.Detacher)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError("handler detach panicked", nil).
				WithContext("handler", name).
				WithContext("panic", r)
		}
	}()
	if err := detacher.Detach(ctx); err != nil {
		return errors.NewInternalError("failed to detach handler", err).WithContext("handler", name)
	}
	return nil
}

// Names returns the attached group names, sorted.
func (s *HandlerSet) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Owner returns the unit that attached the named group.
func (s *HandlerSet) Owner(name string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, exists := s.handlers[unit.Canonical(name)]
	return entry.owner, exists
}

func (s *HandlerSet) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.handlers)
}

// Dispatch routes args to the named group. The handler runs outside the set's
// lock so it may itself load or unload units.
func (s *HandlerSet) Dispatch(ctx context.Context, group string, args []string) (string, error) {
	name := unit.Canonical(group)

	s.mutex.RLock()
	entry, exists := s.handlers[name]
	s.mutex.RUnlock()

	if !exists {
		return "", errors.NewNotFoundError("no such command group", nil).WithContext("handler", name)
	}
	return entry.handler.Handle(ctx, args)
}
