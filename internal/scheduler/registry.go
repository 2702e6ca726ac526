package scheduler

import (
	"fmt"
	"sync"

	"github.com/limiquantix/placement/internal/domain"
)

// Registry holds strategy providers in registration order. Providers
// registered first are consulted first.
type Registry struct {
	mu        sync.RWMutex
	providers []StrategyProvider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...StrategyProvider) (*Registry, error) {
	r := &Registry{}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Names must be unique.
func (r *Registry) Register(p StrategyProvider) error {
	if p == nil {
		return fmt.Errorf("%w: provider is nil", domain.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: strategy %s", domain.ErrAlreadyExists, p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Get returns the provider implementing the named strategy.
func (r *Registry) Get(name domain.StrategyName) (StrategyProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Providers returns a snapshot of the registered providers.
func (r *Registry) Providers() []StrategyProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StrategyProvider, len(r.providers))
	copy(out, r.providers)
	return out
}
