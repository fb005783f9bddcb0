package provider

import (
	"fmt"
	"sync"

	"github.com/cogitohq/cogito/pkg/provider"
)

// Factory creates a client from configuration plus shared collaborators.
type Factory func(cfg provider.Config, deps Deps) (provider.Client, error)

// Registry maps provider type names to factories. New provider kinds can be
// registered at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in provider types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterFactory("openai", NewOpenAI)
	r.RegisterFactory("anthropic", NewAnthropic)
	return r
}

// RegisterFactory registers a factory for a provider type.
func (r *Registry) RegisterFactory(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// Create builds a client of the configured type.
func (r *Registry) Create(cfg provider.Config, deps Deps) (provider.Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}

	client, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.Name, err)
	}
	return client, nil
}

// Types lists the registered provider types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}
