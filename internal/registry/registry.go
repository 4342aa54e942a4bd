// Package registry maps symbolic names to typed handler capabilities.
//
// Settings reference handlers, middlewares, routing tables, and hooks
// by name ("lona/404", "myapp/login"); applications register the
// backing values at startup. There is no runtime string evaluation:
// a name that resolves to nothing fails startup with a clear error.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fscherf/lona/internal/views"
)

// Registry holds all named capabilities. Registration happens during
// startup; resolution may happen from any goroutine afterwards.
type Registry struct {
	mutex         sync.RWMutex
	handlers      map[string]views.Handler
	errorHandlers map[string]views.ErrorHandler
	objects       map[string]interface{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers:      make(map[string]views.Handler),
		errorHandlers: make(map[string]views.ErrorHandler),
		objects:       make(map[string]interface{}),
	}
}

// RegisterHandler binds a view handler to name. Duplicate names are an
// error; overriding a core handler is done through settings, not by
// re-registering its name.
func (r *Registry) RegisterHandler(name string, handler views.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler %q is nil", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// RegisterErrorHandler binds an error handler (the 500 path) to name.
func (r *Registry) RegisterErrorHandler(name string, handler views.ErrorHandler) error {
	if handler == nil {
		return fmt.Errorf("error handler %q is nil", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.errorHandlers[name]; exists {
		return fmt.Errorf("error handler %q already registered", name)
	}
	r.errorHandlers[name] = handler
	return nil
}

// RegisterObject binds any other capability to name: middlewares,
// routing tables, startup and shutdown hooks. Consumers type-assert at
// resolution time.
func (r *Registry) RegisterObject(name string, object interface{}) error {
	if object == nil {
		return fmt.Errorf("object %q is nil", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.objects[name]; exists {
		return fmt.Errorf("object %q already registered", name)
	}
	r.objects[name] = object
	return nil
}

// Handler resolves a view handler by name.
func (r *Registry) Handler(name string) (views.Handler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	handler, ok := r.handlers[name]
	return handler, ok
}

// ResolveHandler resolves a view handler or fails with the name in the
// error, for startup-time resolution of settings references.
func (r *Registry) ResolveHandler(name string) (views.Handler, error) {
	if handler, ok := r.Handler(name); ok {
		return handler, nil
	}
	return nil, fmt.Errorf("no handler registered under %q", name)
}

// ErrorHandler resolves an error handler by name.
func (r *Registry) ErrorHandler(name string) (views.ErrorHandler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	handler, ok := r.errorHandlers[name]
	return handler, ok
}

// ResolveErrorHandler resolves an error handler or fails with the name
// in the error.
func (r *Registry) ResolveErrorHandler(name string) (views.ErrorHandler, error) {
	if handler, ok := r.ErrorHandler(name); ok {
		return handler, nil
	}
	return nil, fmt.Errorf("no error handler registered under %q", name)
}

// Object resolves a generic capability by name.
func (r *Registry) Object(name string) (interface{}, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	object, ok := r.objects[name]
	return object, ok
}

// ResolveObject resolves a generic capability or fails with the name in
// the error.
func (r *Registry) ResolveObject(name string) (interface{}, error) {
	if object, ok := r.Object(name); ok {
		return object, nil
	}
	return nil, fmt.Errorf("nothing registered under %q", name)
}

// HandlerNames returns all registered view handler names, sorted.
func (r *Registry) HandlerNames() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
