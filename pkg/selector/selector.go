// Package selector turns per-category item pools into a deterministic
// per-profile publication record, honoring quotas and tie-break rules.
package selector

import (
	"sort"
	"time"

	"socialscope/pkg/domain"
	"socialscope/pkg/score"
)

// Pool accumulates content items per category for one collection cycle.
// Adding an item with an id already present replaces the earlier reading, so
// retried scraper calls keep the freshest engagement numbers.
type Pool struct {
	items map[domain.Category][]domain.ContentItem
	index map[string]int // item id -> position within its category slice
}

// NewPool creates an empty pool
func NewPool() *Pool {
	return &Pool{
		items: make(map[domain.Category][]domain.ContentItem),
		index: make(map[string]int),
	}
}

// Add inserts an item, de-duplicating by id within the cycle
func (p *Pool) Add(item domain.ContentItem) {
	if pos, ok := p.index[item.ID]; ok {
		p.items[item.Category][pos] = item
		return
	}
	p.items[item.Category] = append(p.items[item.Category], item)
	p.index[item.ID] = len(p.items[item.Category]) - 1
}

// AddAll inserts a batch of items
func (p *Pool) AddAll(items []domain.ContentItem) {
	for _, item := range items {
		p.Add(item)
	}
}

// Category returns the accumulated items for one category
func (p *Pool) Category(c domain.Category) []domain.ContentItem {
	return p.items[c]
}

// Size returns the total number of distinct items in the pool
func (p *Pool) Size() int { return len(p.index) }

// WithoutIDs returns a copy of the pool with the given item ids removed.
// The run loop uses this to exclude recently published items before selection.
func (p *Pool) WithoutIDs(exclude map[string]struct{}) *Pool {
	if len(exclude) == 0 {
		return p
	}
	filtered := NewPool()
	for _, c := range domain.Categories() {
		for _, item := range p.items[c] {
			if _, skip := exclude[item.ID]; skip {
				continue
			}
			filtered.Add(item)
		}
	}
	return filtered
}

// Selector picks per-category winners for a profile
type Selector struct {
	scorer *score.Scorer
}

// New creates a selector using the given scorer
func New(scorer *score.Scorer) *Selector {
	return &Selector{scorer: scorer}
}

// Select builds the publication record for a profile from the cycle's pool.
// Pure function of its inputs: same pool, profile and now produce an
// identical record. Empty pools yield empty slots, never errors.
func (s *Selector) Select(pool *Pool, profile domain.Profile, now time.Time) domain.PublicationRecord {
	rec := domain.PublicationRecord{
		ProfileName: profile.Name,
		GeneratedAt: now,
		Photos:      []domain.ContentItem{},
		Videos:      []domain.ContentItem{},
		ShortForm:   []domain.ContentItem{},
	}

	rec.Photos = s.pick(pool.Category(domain.CategoryPhoto), profile, now, profile.Quota(domain.CategoryPhoto))
	rec.Videos = s.pick(pool.Category(domain.CategoryVideo), profile, now, profile.Quota(domain.CategoryVideo))
	rec.ShortForm = s.pick(pool.Category(domain.CategoryShortForm), profile, now, profile.Quota(domain.CategoryShortForm))

	// trends split into independent sub-kind rankings, one winner each
	hashtags, sounds := splitTrends(pool.Category(domain.CategoryTrend))
	if winners := s.pick(hashtags, profile, now, 1); len(winners) > 0 {
		rec.Hashtag = &winners[0]
	}
	if winners := s.pick(sounds, profile, now, 1); len(winners) > 0 {
		rec.Sound = &winners[0]
	}

	return rec
}

// pick filters, ranks and caps candidates for one category
func (s *Selector) pick(candidates []domain.ContentItem, profile domain.Profile, now time.Time, quota int) []domain.ContentItem {
	if quota <= 0 || len(candidates) == 0 {
		return []domain.ContentItem{}
	}

	ranked := make([]domain.ContentItem, 0, len(candidates))
	for _, item := range candidates {
		// a scraper bug must not leak content from networks the profile is
		// not on; trend items are network-wide and pass regardless
		if item.Category != domain.CategoryTrend && !profile.OnNetwork(item.Network) {
			continue
		}
		ranked = append(ranked, item)
	}

	sort.Slice(ranked, func(i, j int) bool { return s.less(ranked[i], ranked[j], profile, now) })

	if len(ranked) > quota {
		ranked = ranked[:quota]
	}
	return ranked
}

// less orders candidates best-first: score desc, then recency desc, then id
// asc. Ids are unique within a cycle, so the order is total and reproducible.
func (s *Selector) less(a, b domain.ContentItem, profile domain.Profile, now time.Time) bool {
	sa, sb := s.scorer.Score(a, profile, now), s.scorer.Score(b, profile, now)
	if sa != sb {
		return sa > sb
	}
	ra, rb := s.scorer.Recency(a, now), s.scorer.Recency(b, now)
	if ra != rb {
		return ra > rb
	}
	return a.ID < b.ID
}

func splitTrends(trends []domain.ContentItem) (hashtags, sounds []domain.ContentItem) {
	for _, item := range trends {
		switch item.TrendKind {
		case domain.TrendHashtag:
			hashtags = append(hashtags, item)
		case domain.TrendSound:
			sounds = append(sounds, item)
		}
	}
	return hashtags, sounds
}
