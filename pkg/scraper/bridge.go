package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"socialscope/pkg/domain"
)

// BridgeScraper consumes a syndication bridge (RSS/Atom endpoint exposing a
// profile's posts) and normalizes entries into content items. The URL
// template gets {handle} substituted per fetch.
type BridgeScraper struct {
	network  domain.Network
	template string
	parser   *gofeed.Parser
	client   *http.Client
	timeout  time.Duration
}

// NewBridgeScraper creates a bridge scraper for one network
func NewBridgeScraper(network domain.Network, urlTemplate string, timeout time.Duration) *BridgeScraper {
	return &BridgeScraper{
		network:  network,
		template: urlTemplate,
		parser:   gofeed.NewParser(),
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

// Fetch retrieves and normalizes the bridge feed for a handle. Entries older
// than since are skipped; entries without a link are dropped with a warning.
func (b *BridgeScraper) Fetch(ctx context.Context, handle string, since time.Time) ([]domain.ContentItem, error) {
	feedURL := strings.ReplaceAll(b.template, "{handle}", handle)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", feedURL, err)
	}
	addBrowserHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bridge %s: %w", feedURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch bridge %s: unexpected status %d", feedURL, resp.StatusCode)
	}

	feed, err := b.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse bridge feed %s: %w", feedURL, err)
	}

	items := make([]domain.ContentItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry.Link == "" {
			lgr.Printf("[WARN] dropping malformed entry without link from %s (%s)", handle, b.network)
			continue
		}

		item := domain.ContentItem{
			ID:       b.entryID(entry),
			Network:  b.network,
			Category: b.categorize(entry),
			URL:      entry.Link,
			Caption:  entryCaption(entry),
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			item.PublishedAt = *entry.UpdatedParsed
		}

		if !since.IsZero() && !item.PublishedAt.IsZero() && item.PublishedAt.Before(since) {
			continue
		}

		items = append(items, item)
	}

	return items, nil
}

// entryID builds a stable id, unique per network+post
func (b *BridgeScraper) entryID(entry *gofeed.Item) string {
	key := entry.GUID
	if key == "" {
		key = entry.Link
	}
	return fmt.Sprintf("%s:%s", b.network, key)
}

// categorize maps a feed entry to a content category. Video enclosures on
// instagram and tiktok are short-form clips; on twitter and threads they are
// regular videos. Everything else counts as a photo.
func (b *BridgeScraper) categorize(entry *gofeed.Item) domain.Category {
	video := false
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "video/") {
			video = true
			break
		}
	}
	if !video && strings.Contains(entry.Link, "/reel") {
		video = true
	}
	if !video {
		return domain.CategoryPhoto
	}

	switch b.network {
	case domain.NetworkInstagram, domain.NetworkTikTok:
		return domain.CategoryShortForm
	default:
		return domain.CategoryVideo
	}
}

func entryCaption(entry *gofeed.Item) string {
	if entry.Title != "" {
		return entry.Title
	}
	return entry.Description
}

// TrendFeed reads a feed of currently trending tags or sounds. Feed order
// encodes rank; engagement is set from the position so the selector's
// ranking preserves it.
type TrendFeed struct {
	network domain.Network
	kind    domain.TrendKind
	feedURL string
	parser  *gofeed.Parser
	client  *http.Client
	timeout time.Duration
}

// NewTrendFeed creates a trend source for one network and sub-kind
func NewTrendFeed(network domain.Network, kind domain.TrendKind, feedURL string, timeout time.Duration) *TrendFeed {
	return &TrendFeed{
		network: network,
		kind:    kind,
		feedURL: feedURL,
		parser:  gofeed.NewParser(),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Trending fetches the current trend entries
func (t *TrendFeed) Trending(ctx context.Context) ([]domain.ContentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", t.feedURL, err)
	}
	addBrowserHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trends %s: %w", t.feedURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trends %s: unexpected status %d", t.feedURL, resp.StatusCode)
	}

	feed, err := t.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse trend feed %s: %w", t.feedURL, err)
	}

	items := make([]domain.ContentItem, 0, len(feed.Items))
	for rank, entry := range feed.Items {
		name := strings.TrimSpace(entry.Title)
		if name == "" {
			lgr.Printf("[WARN] dropping unnamed trend entry from %s (%s)", t.feedURL, t.kind)
			continue
		}
		items = append(items, domain.ContentItem{
			ID:         fmt.Sprintf("%s:trend:%s:%s", t.network, t.kind, name),
			Network:    t.network,
			Category:   domain.CategoryTrend,
			URL:        entry.Link,
			TrendKind:  t.kind,
			TrendName:  name,
			Engagement: float64(len(feed.Items) - rank), // higher rank, higher engagement
		})
	}

	return items, nil
}
