package config

import (
	"fmt"
	"net/url"
	"sort"
)

// ProviderConfig describes one external deep-search provider: where to
// deliver its task requests and what kind of work it does.
type ProviderConfig struct {
	ID string `yaml:"-"`

	// Endpoint is the HTTP endpoint the task request is POSTed to.
	Endpoint string `yaml:"endpoint"`

	// TaskType is the kind of work the provider performs (e.g. "crawl",
	// "fact_check", "community_scan").
	TaskType string `yaml:"task_type"`

	// Evidence marks providers whose results are parsed into crawl
	// evidence rows.
	Evidence bool `yaml:"evidence"`

	// Enabled defaults to true; disabled providers are never routed to.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the provider participates in routing.
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SourceConfig describes one external parallel-search source adapter.
type SourceConfig struct {
	ID string `yaml:"-"`

	// Endpoint is the HTTP search endpoint of the source.
	Endpoint string `yaml:"endpoint"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the source participates in the fan-out.
func (s *SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProviderRegistry is the static routing table: which providers handle a
// deep-search topic, and which external sources join the search fan-out.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	sources   map[string]*SourceConfig

	// routes maps a topic to an explicit provider set; the "default" key
	// applies to all topics without an exact entry.
	routes map[string][]string
}

// NewProviderRegistry builds a registry from the raw YAML maps.
func NewProviderRegistry(
	providers map[string]*ProviderConfig,
	sources map[string]*SourceConfig,
	routes map[string][]string,
) (*ProviderRegistry, error) {
	for id, p := range providers {
		p.ID = id
		if p.Endpoint == "" {
			return nil, fmt.Errorf("provider %q: endpoint is required", id)
		}
		if _, err := url.ParseRequestURI(p.Endpoint); err != nil {
			return nil, fmt.Errorf("provider %q: invalid endpoint: %w", id, err)
		}
		if p.TaskType == "" {
			return nil, fmt.Errorf("provider %q: task_type is required", id)
		}
	}
	for id, s := range sources {
		s.ID = id
		if s.Endpoint == "" {
			return nil, fmt.Errorf("source %q: endpoint is required", id)
		}
		if _, err := url.ParseRequestURI(s.Endpoint); err != nil {
			return nil, fmt.Errorf("source %q: invalid endpoint: %w", id, err)
		}
	}
	for route, ids := range routes {
		for _, id := range ids {
			if _, ok := providers[id]; !ok {
				return nil, fmt.Errorf("route %q references unknown provider %q", route, id)
			}
		}
	}
	return &ProviderRegistry{providers: providers, sources: sources, routes: routes}, nil
}

// Provider returns the provider with the given id, or nil.
func (r *ProviderRegistry) Provider(id string) *ProviderConfig {
	return r.providers[id]
}

// PlanFor resolves the provider set for a topic: an exact route entry wins,
// otherwise the "default" route, otherwise every enabled provider. The
// result is sorted by id for deterministic sub-task planning.
func (r *ProviderRegistry) PlanFor(topic string) []*ProviderConfig {
	ids, ok := r.routes[topic]
	if !ok {
		ids, ok = r.routes["default"]
	}
	var out []*ProviderConfig
	if ok {
		for _, id := range ids {
			if p := r.providers[id]; p != nil && p.IsEnabled() {
				out = append(out, p)
			}
		}
	} else {
		for _, p := range r.providers {
			if p.IsEnabled() {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledSources returns the enabled external search sources sorted by id.
func (r *ProviderRegistry) EnabledSources() []*SourceConfig {
	var out []*SourceConfig
	for _, s := range r.sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of configured providers.
func (r *ProviderRegistry) Len() int {
	return len(r.providers)
}
