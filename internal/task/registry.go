package task

import (
	"fmt"
	"sync"

	"github.com/hoardline/taskcore/internal/domain"
	"github.com/hoardline/taskcore/internal/jobs"
)

// Registry maps task kinds to the handlers their items are dispatched to.
// Registration happens once during wiring; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskKind]jobs.Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.TaskKind]jobs.Handler),
	}
}

// Register binds a handler to a kind, replacing any previous binding.
func (r *Registry) Register(kind domain.TaskKind, handler jobs.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Resolve returns the handler for the given kind.
func (r *Registry) Resolve(kind domain.TaskKind) (jobs.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %q: %w", kind, domain.ErrInvalidTaskKind)
	}
	return handler, nil
}
