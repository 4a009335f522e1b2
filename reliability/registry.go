package reliability

import (
	"sync"
)

// Registry holds one circuit breaker per protected resource, keyed by name.
// It is constructed once at startup and handed to every call site so
// breakers are shared rather than created ad hoc.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults []CircuitBreakerOption
}

// NewRegistry creates a breaker registry. The given options become defaults
// for every breaker the registry creates.
func NewRegistry(defaults ...CircuitBreakerOption) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// GetOrCreate returns the breaker registered under name, creating it on
// first use. Per-call options override the registry defaults. Safe for
// concurrent use; all callers racing on the same name observe the same
// instance.
func (r *Registry) GetOrCreate(name string, options ...CircuitBreakerOption) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	opts := make([]CircuitBreakerOption, 0, len(r.defaults)+len(options)+1)
	opts = append(opts, r.defaults...)
	opts = append(opts, options...)
	opts = append(opts, WithName(name))

	cb = NewCircuitBreaker(opts...)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the names of all registered breakers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// ResetAll forces every registered breaker back to the closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
