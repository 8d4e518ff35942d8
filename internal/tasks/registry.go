// ABOUTME: Task type to handler registry consulted at dispatch time
// ABOUTME: Handlers receive the worker context and raw JSON params

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one task type.
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage) (string, error) {
	return f(ctx, params)
}

// Registry maps task type names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for name. Names must be valid task types and unique.
func (r *Registry) Register(name string, h Handler) error {
	if !ValidType(name) {
		return fmt.Errorf("%w: %q", ErrInvalidType, name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler already registered for %q", name)
	}
	r.handlers[name] = h
	return nil
}

// Resolve returns the handler for name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered task types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
