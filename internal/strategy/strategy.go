// Package strategy compiles declarative strategy definitions into
// executable form and evaluates their buy/sell conditions bar by bar. It also
// provides a Registry for managing multiple strategy definitions.
package strategy

import (
	"fmt"
	"sort"
)

// Registry holds a named collection of strategy definitions for lookup and
// enumeration.
type Registry struct {
	strategies map[string]Config
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Config),
	}
}

// Register adds a strategy definition to the registry, keyed by its Name.
// A later registration with the same name replaces the earlier one.
func (r *Registry) Register(cfg Config) {
	r.strategies[cfg.Name] = cfg
}

// Get retrieves a strategy definition by name. The second return value
// indicates whether the strategy was found.
func (r *Registry) Get(name string) (Config, bool) {
	cfg, ok := r.strategies[name]
	return cfg, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir registers every strategy file in dir.
func (r *Registry) LoadDir(dir string) error {
	cfgs, err := LoadDir(dir)
	if err != nil {
		return fmt.Errorf("loading strategies from %s: %w", dir, err)
	}
	for _, cfg := range cfgs {
		r.Register(*cfg)
	}
	return nil
}
