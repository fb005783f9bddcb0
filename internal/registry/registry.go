// Package registry wires singleton services into a single construction-time
// graph. Services are registered by name during startup and shut down in
// reverse registration order.
package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
)

// Registry holds named singleton services. Safe for concurrent lookup after
// construction; registration is expected to happen during startup.
type Registry struct {
	mu       sync.RWMutex
	services map[string]any
	order    []string
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		services: make(map[string]any),
		logger:   logger,
	}
}

// Register stores a service under the given name. Duplicate registration
// replaces the previous service with a warning and keeps its shutdown slot.
func (r *Registry) Register(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		r.logger.Warn("replacing previously registered service", "name", name)
	} else {
		r.order = append(r.order, name)
	}
	r.services[name] = svc
}

// Lookup returns the singleton registered under name.
func (r *Registry) Lookup(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cogitoerrors.ErrServiceMissing, name)
	}
	return svc, nil
}

// MustLookup returns the singleton registered under name or panics.
// Intended for startup wiring where a missing service is fatal.
func (r *Registry) MustLookup(name string) any {
	svc, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return svc
}

// Names returns registered service names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Shutdown closes services in reverse registration order. Services that
// implement io.Closer are closed; close errors are logged, not returned,
// so that one failing service does not block the rest.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if closer, ok := r.services[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("service close failed", "name", name, "error", err)
			}
		}
	}
	r.services = make(map[string]any)
	r.order = nil
}

// Lookup is a typed helper over Registry.Lookup.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	svc, err := r.Lookup(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %s has unexpected type %T", name, svc)
	}
	return typed, nil
}
