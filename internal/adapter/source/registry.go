package source

import "github.com/cwygoda/musicgrabber/internal/domain"

// enabler is implemented by searchers that depend on optional configuration.
type enabler interface {
	Enabled() bool
}

// Registry holds the registered searchers in registration order.
type Registry struct {
	searchers []domain.Searcher
}

// NewRegistry creates a new searcher registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a searcher to the registry.
func (r *Registry) Register(s domain.Searcher) {
	r.searchers = append(r.searchers, s)
}

// Get returns the searcher for source, or nil when it is unknown or disabled.
func (r *Registry) Get(source domain.Source) domain.Searcher {
	for _, s := range r.searchers {
		if s.Name() == source && enabled(s) {
			return s
		}
	}
	return nil
}

// Searchers returns the enabled searchers.
func (r *Registry) Searchers() []domain.Searcher {
	var out []domain.Searcher
	for _, s := range r.searchers {
		if enabled(s) {
			out = append(out, s)
		}
	}
	return out
}

func enabled(s domain.Searcher) bool {
	if e, ok := s.(enabler); ok {
		return e.Enabled()
	}
	return true
}
