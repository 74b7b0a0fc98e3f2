package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialscope/pkg/domain"
	"socialscope/pkg/score"
	"socialscope/pkg/scraper"
	"socialscope/pkg/selector"
)

// fakeStore keeps publication history in memory
type fakeStore struct {
	mu        sync.Mutex
	published map[string]map[string]time.Time // profile -> item id -> published at
	countErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{published: make(map[string]map[string]time.Time)}
}

func (f *fakeStore) MarkPublished(_ context.Context, rec domain.PublicationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published[rec.ProfileName] == nil {
		f.published[rec.ProfileName] = make(map[string]time.Time)
	}
	for _, item := range rec.Items() {
		f.published[rec.ProfileName][item.ID] = rec.GeneratedAt
	}
	return nil
}

func (f *fakeStore) PublishedIDs(_ context.Context, profile string, since time.Time) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]struct{})
	for id, at := range f.published[profile] {
		if at.After(since) {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (f *fakeStore) PublishedCount(_ context.Context, since time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, items := range f.published {
		for _, at := range items {
			if at.After(since) {
				count++
			}
		}
	}
	return count, nil
}

func (f *fakeStore) OldestPublishedSince(_ context.Context, since time.Time) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest time.Time
	for _, items := range f.published {
		for _, at := range items {
			if at.After(since) && (oldest.IsZero() || at.Before(oldest)) {
				oldest = at
			}
		}
	}
	return oldest, nil
}

func (f *fakeStore) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, items := range f.published {
		for id, at := range items {
			if !at.After(olderThan) {
				delete(items, id)
				removed++
			}
		}
	}
	return removed, nil
}

// fakePublisher records published records, optionally failing some profiles
type fakePublisher struct {
	mu      sync.Mutex
	records []domain.PublicationRecord
	failFor map[string]bool
}

func (f *fakePublisher) Publish(_ context.Context, rec domain.PublicationRecord) error {
	if f.failFor[rec.ProfileName] {
		return errors.New("sheet unavailable")
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) byProfile(name string) (domain.PublicationRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].ProfileName == name {
			return f.records[i], true
		}
	}
	return domain.PublicationRecord{}, false
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fetchFunc func(ctx context.Context, handle string, since time.Time) ([]domain.ContentItem, error)

func (f fetchFunc) Fetch(ctx context.Context, handle string, since time.Time) ([]domain.ContentItem, error) {
	return f(ctx, handle, since)
}

type trendFunc func(ctx context.Context) ([]domain.ContentItem, error)

func (f trendFunc) Trending(ctx context.Context) ([]domain.ContentItem, error) { return f(ctx) }

func photoItem(id string, engagement float64, age time.Duration) domain.ContentItem {
	return domain.ContentItem{
		ID:          "instagram:" + id,
		Network:     domain.NetworkInstagram,
		Category:    domain.CategoryPhoto,
		URL:         "https://instagram.com/p/" + id,
		PublishedAt: time.Now().Add(-age),
		Engagement:  engagement,
	}
}

func testProfile(name string) domain.Profile {
	return domain.Profile{
		Name:     name,
		Handles:  map[domain.Network]string{domain.NetworkInstagram: name + "_ig"},
		AvgViews: 1000,
		Quotas:   map[domain.Category]int{domain.CategoryPhoto: 2, domain.CategoryVideo: 1, domain.CategoryShortForm: 1},
	}
}

func testScheduler(store Store, pub Publisher, reg *scraper.Registry, profiles []domain.Profile, cfg Config) *Scheduler {
	sel := selector.New(score.New(score.DefaultWeights()))
	return New(store, pub, nil, sel, reg, profiles, cfg)
}

func TestScheduler_OnceMode(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, handle string, _ time.Time) ([]domain.ContentItem, error) {
		return []domain.ContentItem{
			photoItem(handle+"-top", 900, time.Hour),
			photoItem(handle+"-mid", 700, 2*time.Hour),
			photoItem(handle+"-low", 100, 3*time.Hour),
		}, nil
	}))
	reg.RegisterTrends(trendFunc(func(_ context.Context) ([]domain.ContentItem, error) {
		return []domain.ContentItem{{
			ID: "tiktok:trend:hashtag:#summer", Network: domain.NetworkTikTok,
			Category: domain.CategoryTrend, TrendKind: domain.TrendHashtag, TrendName: "#summer", Engagement: 10,
		}}, nil
	}))

	s := testScheduler(store, pub, reg, []domain.Profile{testProfile("talia"), testProfile("lea")}, Config{Mode: ModeOnce})
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 2, pub.count(), "one record per profile")
	rec, ok := pub.byProfile("talia")
	require.True(t, ok)
	assert.Len(t, rec.Photos, 2, "photo quota respected")
	assert.Equal(t, "instagram:talia_ig-top", rec.Photos[0].ID)
	require.NotNil(t, rec.Hashtag)
	assert.Equal(t, "#summer", rec.Hashtag.TrendName)

	ids, err := store.PublishedIDs(context.Background(), "talia", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, ids, 3, "two photos and the trend marked published")

	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, 1, st.CyclesDone)
	assert.Equal(t, 6, st.ItemsPublished)
	assert.NotEmpty(t, st.LastCycleID)
}

func TestScheduler_DedupAcrossCycles(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, _ string, _ time.Time) ([]domain.ContentItem, error) {
		return []domain.ContentItem{
			photoItem("a", 900, time.Hour),
			photoItem("b", 800, time.Hour),
			photoItem("c", 700, time.Hour),
		}, nil
	}))

	s := testScheduler(store, pub, reg, []domain.Profile{testProfile("talia")}, Config{Mode: ModeOnce, DedupWindow: 24 * time.Hour})

	require.NoError(t, s.runCycle(context.Background()))
	first, ok := pub.byProfile("talia")
	require.True(t, ok)
	require.Len(t, first.Photos, 2)
	assert.Equal(t, "instagram:a", first.Photos[0].ID)
	assert.Equal(t, "instagram:b", first.Photos[1].ID)

	require.NoError(t, s.runCycle(context.Background()))
	second, ok := pub.byProfile("talia")
	require.True(t, ok)
	require.Len(t, second.Photos, 1, "only the next-best candidate left")
	assert.Equal(t, "instagram:c", second.Photos[0].ID)
}

func TestScheduler_AllNetworksFailStillPublishes(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, _ string, _ time.Time) ([]domain.ContentItem, error) {
		return nil, errors.New("bridge down")
	}))
	reg.RegisterTrends(trendFunc(func(_ context.Context) ([]domain.ContentItem, error) {
		return nil, errors.New("trends down")
	}))

	s := testScheduler(store, pub, reg, []domain.Profile{testProfile("talia")}, Config{Mode: ModeOnce})
	require.NoError(t, s.Run(context.Background()))

	rec, ok := pub.byProfile("talia")
	require.True(t, ok, "an all-empty record is still published")
	assert.True(t, rec.Empty())
	assert.NotNil(t, rec.Photos, "slots are empty, not missing")
}

func TestScheduler_PublishFailureContained(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{failFor: map[string]bool{"talia": true}}

	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, handle string, _ time.Time) ([]domain.ContentItem, error) {
		return []domain.ContentItem{photoItem(handle, 500, time.Hour)}, nil
	}))

	s := testScheduler(store, pub, reg, []domain.Profile{testProfile("talia"), testProfile("lea")}, Config{Mode: ModeOnce})
	require.NoError(t, s.Run(context.Background()))

	_, ok := pub.byProfile("lea")
	assert.True(t, ok, "other profiles proceed past a failed publish")

	ids, err := store.PublishedIDs(context.Background(), "talia", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids, "failed publish must not be marked")
}

func TestScheduler_AllPublishesFailIsFatal(t *testing.T) {
	pub := &fakePublisher{failFor: map[string]bool{"talia": true, "lea": true}}

	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, handle string, _ time.Time) ([]domain.ContentItem, error) {
		return []domain.ContentItem{photoItem(handle, 500, time.Hour)}, nil
	}))

	s := testScheduler(newFakeStore(), pub, reg, []domain.Profile{testProfile("talia"), testProfile("lea")}, Config{Mode: ModeOnce})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publishing failed for all 2 profiles")
}

func TestScheduler_Restrictions(t *testing.T) {
	var igCalls, twCalls, trendCalls int32

	newRegistry := func() *scraper.Registry {
		reg := scraper.NewRegistry()
		reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, handle string, _ time.Time) ([]domain.ContentItem, error) {
			atomic.AddInt32(&igCalls, 1)
			return []domain.ContentItem{photoItem(handle, 500, time.Hour)}, nil
		}))
		reg.Register(domain.NetworkTwitter, fetchFunc(func(_ context.Context, _ string, _ time.Time) ([]domain.ContentItem, error) {
			atomic.AddInt32(&twCalls, 1)
			return nil, nil
		}))
		reg.RegisterTrends(trendFunc(func(_ context.Context) ([]domain.ContentItem, error) {
			atomic.AddInt32(&trendCalls, 1)
			return nil, nil
		}))
		return reg
	}

	profile := testProfile("talia")
	profile.Handles[domain.NetworkTwitter] = "talia_tw"

	t.Run("network only", func(t *testing.T) {
		igCalls, twCalls = 0, 0
		s := testScheduler(newFakeStore(), &fakePublisher{}, newRegistry(), []domain.Profile{profile},
			Config{Mode: ModeOnce, NetworkOnly: domain.NetworkInstagram})
		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, int32(1), atomic.LoadInt32(&igCalls))
		assert.Zero(t, atomic.LoadInt32(&twCalls))
	})

	t.Run("trending only", func(t *testing.T) {
		igCalls, twCalls, trendCalls = 0, 0, 0
		s := testScheduler(newFakeStore(), &fakePublisher{}, newRegistry(), []domain.Profile{profile},
			Config{Mode: ModeOnce, TrendingOnly: true})
		require.NoError(t, s.Run(context.Background()))
		assert.Zero(t, atomic.LoadInt32(&igCalls))
		assert.Zero(t, atomic.LoadInt32(&twCalls))
		assert.Equal(t, int32(1), atomic.LoadInt32(&trendCalls))
	})

	t.Run("profile only", func(t *testing.T) {
		pub := &fakePublisher{}
		s := testScheduler(newFakeStore(), pub, newRegistry(), []domain.Profile{profile, testProfile("lea")},
			Config{Mode: ModeOnce, ProfileOnly: "lea"})
		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, 1, pub.count())
		_, ok := pub.byProfile("lea")
		assert.True(t, ok)
	})
}

func TestScheduler_DailyNextFire(t *testing.T) {
	s := testScheduler(newFakeStore(), &fakePublisher{}, scraper.NewRegistry(), nil,
		Config{Mode: ModeDaily, RunHour: 0, RunMinute: 0})

	// ten to midnight with a midnight schedule fires in ten minutes, not in
	// twenty-four hours ten
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.Local)
	next := s.daily.Next(now)
	assert.Equal(t, 10*time.Minute, next.Sub(now))

	now = time.Date(2025, 6, 1, 0, 0, 30, 0, time.Local)
	next = s.daily.Next(now)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local), next, "just past the mark waits for tomorrow")
}

func TestScheduler_ContinuousQuotaPause(t *testing.T) {
	store := newFakeStore()
	// quota already consumed by an earlier record
	require.NoError(t, store.MarkPublished(context.Background(), domain.PublicationRecord{
		ProfileName: "talia",
		GeneratedAt: time.Now().Add(-time.Hour),
		Photos:      []domain.ContentItem{photoItem("seed", 1, time.Hour)},
	}))

	var fetches int32
	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, _ string, _ time.Time) ([]domain.ContentItem, error) {
		atomic.AddInt32(&fetches, 1)
		return nil, nil
	}))

	s := testScheduler(store, &fakePublisher{}, reg, []domain.Profile{testProfile("talia")},
		Config{Mode: ModeContinuous, DailyQuota: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Zero(t, atomic.LoadInt32(&fetches), "no cycle while the quota window is full")
	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.WithinDuration(t, time.Now().Add(23*time.Hour), st.NextRunAt, 2*time.Hour, "wakes when the seed record ages out")
}

func TestScheduler_ContinuousRunsUntilQuota(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}

	var serial int32
	reg := scraper.NewRegistry()
	reg.Register(domain.NetworkInstagram, fetchFunc(func(_ context.Context, _ string, _ time.Time) ([]domain.ContentItem, error) {
		n := atomic.AddInt32(&serial, 1)
		return []domain.ContentItem{photoItem(fmt.Sprintf("item-%d", n), 500, time.Hour)}, nil
	}))

	s := testScheduler(store, pub, reg, []domain.Profile{testProfile("talia")},
		Config{Mode: ModeContinuous, DailyQuota: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	count, err := store.PublishedCount(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2, "cycles run back to back until the quota fills")
	assert.LessOrEqual(t, count, 3, "quota check pauses further cycles")
}
