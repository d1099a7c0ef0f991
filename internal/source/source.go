package source

import (
	"context"
	"fmt"

	"paperscope/internal/config"
	"paperscope/internal/domain"
)

// Fetcher is a single adapter family (feed, scrape) able to pull raw items
// from a configured source.
type Fetcher interface {
	Kind() string
	Fetch(ctx context.Context, src config.SourceConfig) ([]domain.RawItem, error)
}

// Registry keeps a mapping from source kinds to their adapter implementations.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]Fetcher{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(f Fetcher) {
	if r.fetchers == nil {
		r.fetchers = map[string]Fetcher{}
	}
	r.fetchers[f.Kind()] = f
}

// Resolve returns the adapter for a kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Fetcher, error) {
	if f, ok := r.fetchers[kind]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("source kind %s is not registered", kind)
}
