// Package source registers the business directory adapters a zone can name.
package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// ErrUnknownSource is returned when a zone names an unregistered source.
var ErrUnknownSource = errors.New("unknown source")

// Registry maps source names to discoverers.
type Registry struct {
	mu    sync.RWMutex
	items map[string]prospect.Discoverer
}

// NewRegistry registers the given discoverers under their Name().
func NewRegistry(ds ...prospect.Discoverer) *Registry {
	r := &Registry{items: make(map[string]prospect.Discoverer, len(ds))}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds or replaces d.
func (r *Registry) Register(d prospect.Discoverer) {
	r.mu.Lock()
	r.items[d.Name()] = d
	r.mu.Unlock()
}

// Get returns the discoverer registered as name.
func (r *Registry) Get(name string) (prospect.Discoverer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return d, nil
}

// Names lists registered sources in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
