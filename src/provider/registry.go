package provider

import (
	"fmt"
	"sort"

	"market-platform/src/logger"
)

// Registry is the process-wide provider catalogue. It is immutable once
// returned by a RegistryLoader.
type Registry struct {
	providers map[string]*Provider
	names     []string
}

// Providers returns a copy of the name → provider mapping.
func (r *Registry) Providers() map[string]*Provider {
	out := make(map[string]*Provider, len(r.providers))
	for k, v := range r.providers {
		out[k] = v
	}
	return out
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// -----------------------------------------------------------------------------

// RegistryLoader builds a Registry from an extension manifest.
type RegistryLoader struct {
	Logger *logger.Logger
}

func NewRegistryLoader() *RegistryLoader {
	return &RegistryLoader{Logger: logger.NewLogger(nil, "RegistryLoader")}
}

// -----------------------------------------------------------------------------

// FromExtensions loads every extension exactly once. Duplicate extension or
// provider names, nil providers and name mismatches fail the whole load.
func (l *RegistryLoader) FromExtensions(exts []Extension) (*Registry, error) {
	reg := &Registry{providers: make(map[string]*Provider, len(exts))}
	seen := make(map[string]bool, len(exts))

	for _, ext := range exts {
		if ext.Name == "" || ext.Load == nil {
			return nil, fmt.Errorf("extension %q: name and loader are required", ext.Name)
		}
		if seen[ext.Name] {
			return nil, fmt.Errorf("extension %q declared twice", ext.Name)
		}
		seen[ext.Name] = true

		p, err := ext.Load()
		if err != nil {
			return nil, fmt.Errorf("extension %q: %w", ext.Name, err)
		}
		if p == nil {
			return nil, fmt.Errorf("extension %q: loader returned no provider", ext.Name)
		}
		if p.Name != ext.Name {
			return nil, fmt.Errorf("extension %q: provider is named %q", ext.Name, p.Name)
		}
		if _, dup := reg.providers[p.Name]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name)
		}
		if len(p.FetcherDict) == 0 {
			return nil, fmt.Errorf("provider %q has no fetchers", p.Name)
		}

		reg.providers[p.Name] = p
		reg.names = append(reg.names, p.Name)
		l.Logger.Debug("Loaded provider %s (%d models)", p.Name, len(p.FetcherDict))
	}

	sort.Strings(reg.names)
	l.Logger.Info("Registry built with %d providers", len(reg.names))
	return reg, nil
}
