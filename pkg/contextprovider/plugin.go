package contextprovider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Plugin resolves queries of exactly one kind against a remote control plane.
//
// Lookup never returns an error: every failure is classified into the Result.
// Implementations should honour ctx cancellation, but the Resolver enforces its
// timeout even when they do not.
type Plugin interface {
	Kind() string
	RequiredParams() []string
	Lookup(ctx context.Context, q Query) Result
}

// Registry maps provider kinds to plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates a registry with the given plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin)}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry holding the built-in plugins.
func DefaultRegistry(sessions SessionProvider, logger zerolog.Logger) *Registry {
	r, err := NewRegistry(
		NewEndpointServiceAZPlugin(sessions, logger),
		NewSSMParameterPlugin(sessions, logger),
		NewAvailabilityZonesPlugin(sessions, logger),
	)
	if err != nil {
		// built-in kinds are unique
		panic(err)
	}
	return r
}

// Register adds a plugin. Kinds must be unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil || p.Kind() == "" {
		return fmt.Errorf("plugin kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Kind()]; exists {
		return fmt.Errorf("plugin for kind %s already registered", p.Kind())
	}
	r.plugins[p.Kind()] = p
	return nil
}

// Get returns the plugin for kind.
func (r *Registry) Get(kind string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[kind]
	return p, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for k := range r.plugins {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
