// Package registry maps provider type names to their registrations.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry stores entries keyed by a case-insensitive type name.
type Registry[E any] struct {
	mu      sync.RWMutex
	entries map[string]E
}

// New allocates an empty registry.
func New[E any]() *Registry[E] {
	return &Registry[E]{entries: make(map[string]E)}
}

// Register adds an entry under name. Registering a name twice fails.
func (r *Registry[E]) Register(name string, entry E) error {
	if name == "" {
		return fmt.Errorf("registry: provider type required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize(name)
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("registry: provider %s already registered", name)
	}

	r.entries[key] = entry
	return nil
}

// Get fetches an entry by name.
func (r *Registry[E]) Get(name string) (E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[normalize(name)]
	return entry, ok
}

// Names returns the sorted registered keys.
func (r *Registry[E]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
