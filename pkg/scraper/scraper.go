// Package scraper defines the contracts for per-network content collection
// and provides a syndication-bridge implementation. The run loop treats every
// scraper as a black box producing normalized content items.
package scraper

import (
	"context"
	"time"

	"socialscope/pkg/domain"
)

//go:generate moq -out mocks/scraper.go -pkg mocks -skip-ensure -fmt goimports . Scraper
//go:generate moq -out mocks/trend_source.go -pkg mocks -skip-ensure -fmt goimports . TrendSource

// Scraper fetches content items for one handle on one network. A failure
// means zero items from that network for the cycle, never a fatal run error.
type Scraper interface {
	Fetch(ctx context.Context, handle string, since time.Time) ([]domain.ContentItem, error)
}

// TrendSource fetches currently trending tags or sounds, network-wide
type TrendSource interface {
	Trending(ctx context.Context) ([]domain.ContentItem, error)
}

// Registry holds the configured scrapers and trend sources
type Registry struct {
	scrapers map[domain.Network]Scraper
	trends   []TrendSource
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[domain.Network]Scraper)}
}

// Register adds a scraper for a network, replacing any previous one
func (r *Registry) Register(network domain.Network, s Scraper) {
	r.scrapers[network] = s
}

// RegisterTrends adds a trend source
func (r *Registry) RegisterTrends(src TrendSource) {
	r.trends = append(r.trends, src)
}

// Scraper returns the scraper for a network if one is configured
func (r *Registry) Scraper(network domain.Network) (Scraper, bool) {
	s, ok := r.scrapers[network]
	return s, ok
}

// TrendSources returns all registered trend sources
func (r *Registry) TrendSources() []TrendSource {
	return r.trends
}
