package breaker

import (
	"log/slog"
	"sync"
)

// Registry creates and holds one breaker per dependency name. It is
// constructed once at process start and passed by handle to every component
// that calls an external dependency; breakers are created lazily on first use.
type Registry struct {
	settings Settings
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share the given
// settings.
func NewRegistry(settings Settings, logger *slog.Logger) *Registry {
	return &Registry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the dependency name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.settings, r.logger)
		r.breakers[name] = b
	}
	return b
}

// States reports the current state of every known breaker, for health
// endpoints and monitoring.
func (r *Registry) States() map[string]Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Counts, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Counts()
	}
	return out
}
