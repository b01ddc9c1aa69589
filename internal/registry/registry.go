// Package registry holds the executor adapters registered for a single
// engine instance, keyed by rule kind name.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/staleguard/internal/executor"
)

// Registry maps rule kind names to executor adapters. Registration happens
// at startup; lookups during execution are read-only, so no locking is
// needed.
type Registry struct {
	adapters map[string]executor.Adapter
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{adapters: make(map[string]executor.Adapter)}
}

// Register binds an adapter to a kind name. Registering the same kind twice
// is a programmer error, not a configuration error.
func (r *Registry) Register(kind string, adapter executor.Adapter) {
	if _, exists := r.adapters[kind]; exists {
		panic(fmt.Sprintf("executor adapter for kind '%s' already registered", kind))
	}
	slog.Debug("Registering executor adapter.", "kind", kind)
	r.adapters[kind] = adapter
}

// Adapter implements executor.AdapterLookup.
func (r *Registry) Adapter(kind string) (executor.Adapter, bool) {
	adapter, ok := r.adapters[kind]
	return adapter, ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
