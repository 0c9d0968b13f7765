package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/theravoice/theravoice/internal/job"
)

// HandlerFunc performs the work of a fired job
type HandlerFunc func(context.Context, *job.Job) error

// Registry maps job kinds to the handlers invoked when they fire
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Kind]HandlerFunc
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[job.Kind]HandlerFunc),
	}
}

// Register binds a handler to a kind
func (r *Registry) Register(kind job.Kind, handler HandlerFunc) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("handler for %s cannot be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for %s already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// MustRegister registers a handler, panicking on error.
// Useful for initialization-time registration.
func (r *Registry) MustRegister(kind job.Kind, handler HandlerFunc) {
	if err := r.Register(kind, handler); err != nil {
		panic(fmt.Sprintf("failed to register handler: %v", err))
	}
}

// Get retrieves the handler for a kind
func (r *Registry) Get(kind job.Kind) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[kind]
	return handler, exists
}

// Count returns the number of registered handlers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
