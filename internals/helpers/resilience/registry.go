package resilience

import (
	"sort"
	"sync"
)

// Breaker names for the external dependencies of this service.
const (
	BreakerMidtrans = "midtrans"
	BreakerEvents   = "events"
)

// Registry hands out one breaker per dependency name. Build it once at
// startup and inject it; an outage in one dependency never trips another.
type Registry struct {
	defaults BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry(defaults BreakerConfig) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Configure registers a breaker with its own thresholds, replacing any existing one.
func (r *Registry) Configure(name string, cfg BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := NewCircuitBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

func (r *Registry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
