// Package provider defines the narrow contract the workflow holds against
// upstream annotation data sources, and the concrete fetchers behind it.
package provider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bioetl/targetforge/internal/model"
)

// Provider is the single capability the core depends on per data source.
// A provider that cannot produce data signals an error; callers treat that
// as a per-provider absence, never a run abort.
type Provider interface {
	// Tag returns the registered provider tag
	Tag() string

	// Category returns the annotation category this provider supplies
	Category() model.Category

	// Fetch returns the provider's current annotation set for the targets
	Fetch(ctx context.Context, targetIDs []string, asOf time.Time) ([]model.AnnotationRecord, error)
}

// Registry holds the configured providers keyed by tag
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry, rejecting duplicate tags
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, exists := r.providers[p.Tag()]; exists {
			return nil, fmt.Errorf("duplicate provider tag: %q", p.Tag())
		}
		r.providers[p.Tag()] = p
	}
	return r, nil
}

// Get returns the provider registered under tag
func (r *Registry) Get(tag string) (Provider, bool) {
	p, ok := r.providers[tag]
	return p, ok
}

// All returns the registered providers in tag order
func (r *Registry) All() []Provider {
	tags := make([]string, 0, len(r.providers))
	for tag := range r.providers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	out := make([]Provider, 0, len(tags))
	for _, tag := range tags {
		out = append(out, r.providers[tag])
	}
	return out
}

// Categories returns the tag → category mapping for fusion validation
func (r *Registry) Categories() map[string]model.Category {
	out := make(map[string]model.Category, len(r.providers))
	for tag, p := range r.providers {
		out[tag] = p.Category()
	}
	return out
}

// FromConfig builds the registry from configuration. Unknown categories are
// configuration errors and fatal before any stage runs.
func FromConfig(cfg *model.Config) (*Registry, error) {
	var providers []Provider
	for tag, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		category, err := parseCategory(pc.Category)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", tag, err)
		}
		providers = append(providers, NewHTTP(tag, category, pc))
	}
	return NewRegistry(providers...)
}

func parseCategory(name string) (model.Category, error) {
	for _, c := range model.Categories() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown annotation category: %q", name)
}
