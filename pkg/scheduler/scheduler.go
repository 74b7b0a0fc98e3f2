// Package scheduler drives the collection cycle: fetch content for every
// profile and network, enrich, select against preferences and publish. One
// scheduler instance owns the whole run regardless of mode.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"socialscope/pkg/domain"
	"socialscope/pkg/scraper"
	"socialscope/pkg/selector"
)

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store
//go:generate moq -out mocks/publisher.go -pkg mocks -skip-ensure -fmt goimports . Publisher

// State is the run loop's externally visible phase
type State string

// run loop states; stop requests take effect at cycle boundaries only, so a
// cycle in flight always finishes its publishing phase
const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateSelecting  State = "selecting"
	StatePublishing State = "publishing"
	StateStopped    State = "stopped"
)

// Mode selects how cycles are sequenced
type Mode string

// run modes, mutually exclusive
const (
	ModeOnce       Mode = "once"
	ModeContinuous Mode = "continuous"
	ModeDaily      Mode = "daily"
)

// Store persists publication history for dedup and quota accounting
type Store interface {
	MarkPublished(ctx context.Context, rec domain.PublicationRecord) error
	PublishedIDs(ctx context.Context, profile string, since time.Time) (map[string]struct{}, error)
	PublishedCount(ctx context.Context, since time.Time) (int, error)
	OldestPublishedSince(ctx context.Context, since time.Time) (time.Time, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Publisher delivers a finalized record to the sheet
type Publisher interface {
	Publish(ctx context.Context, rec domain.PublicationRecord) error
}

// Enricher fills unknown item attributes before selection
type Enricher interface {
	Enrich(ctx context.Context, items []domain.ContentItem)
}

// ItemSelector builds the per-profile record from a cycle pool
type ItemSelector interface {
	Select(pool *selector.Pool, profile domain.Profile, now time.Time) domain.PublicationRecord
}

// Config holds run loop settings
type Config struct {
	Mode        Mode
	RunHour     int // daily mode fire time, local clock
	RunMinute   int
	DailyQuota  int           // continuous mode, max published items in a rolling 24h window
	DedupWindow time.Duration // how long a published id stays excluded
	Lookback    time.Duration // how far back scrapers are asked for content
	MaxWorkers  int

	// run restrictions
	NetworkOnly  domain.Network // empty = all networks
	ProfileOnly  string         // empty = all profiles
	TrendingOnly bool
}

// Status is a snapshot for the status server
type Status struct {
	State          State     `json:"state"`
	Mode           Mode      `json:"mode"`
	Profiles       int       `json:"profiles"`
	CyclesDone     int       `json:"cycles_done"`
	ItemsPublished int       `json:"items_published"`
	LastCycleID    string    `json:"last_cycle_id,omitempty"`
	LastCycleAt    time.Time `json:"last_cycle_at,omitempty"`
	NextRunAt      time.Time `json:"next_run_at,omitempty"`
}

// Scheduler runs collection cycles over the configured profiles
type Scheduler struct {
	store     Store
	publisher Publisher
	enricher  Enricher // nil when enrichment disabled
	selector  ItemSelector
	registry  *scraper.Registry
	profiles  []domain.Profile
	cfg       Config
	daily     cron.Schedule // set for ModeDaily

	mu     sync.Mutex
	status Status
}

// quotaRecheck bounds the continuous-mode sleep when the quota is reached but
// the store reports no wake time, e.g. after an external prune
const quotaRecheck = time.Minute

// New creates a scheduler. For daily mode the fire time must already be
// validated; New panics on an impossible cron spec to catch wiring bugs early.
func New(store Store, publisher Publisher, enricher Enricher, sel ItemSelector, registry *scraper.Registry, profiles []domain.Profile, cfg Config) *Scheduler {
	if cfg.Mode == "" {
		cfg.Mode = ModeOnce
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 7 * 24 * time.Hour
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 14 * 24 * time.Hour
	}

	s := &Scheduler{
		store:     store,
		publisher: publisher,
		enricher:  enricher,
		selector:  sel,
		registry:  registry,
		profiles:  profiles,
		cfg:       cfg,
	}
	s.status = Status{State: StateIdle, Mode: cfg.Mode, Profiles: len(s.activeProfiles())}

	if cfg.Mode == ModeDaily {
		spec := fmt.Sprintf("%d %d * * *", cfg.RunMinute, cfg.RunHour)
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			panic(fmt.Sprintf("invalid daily schedule %q: %v", spec, err))
		}
		s.daily = sched
	}
	return s
}

// Run executes cycles per the configured mode until the context is canceled.
// Cancellation is honored between cycles; a cycle in flight completes first.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	switch s.cfg.Mode {
	case ModeOnce:
		lgr.Printf("[INFO] running a single collection cycle")
		return s.runCycle(ctx)
	case ModeContinuous:
		return s.runContinuous(ctx)
	case ModeDaily:
		return s.runDaily(ctx)
	default:
		return fmt.Errorf("unknown run mode %q", s.cfg.Mode)
	}
}

// Status returns a snapshot of the run loop
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// runContinuous executes back-to-back cycles, pausing while the rolling 24h
// publication count sits at or above the daily quota.
func (s *Scheduler) runContinuous(ctx context.Context) error {
	lgr.Printf("[INFO] running continuously, daily quota %d", s.cfg.DailyQuota)
	for {
		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		windowStart := now.Add(-24 * time.Hour)
		count, err := s.store.PublishedCount(ctx, windowStart)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}

		if s.cfg.DailyQuota > 0 && count >= s.cfg.DailyQuota {
			wake := s.quotaWakeTime(ctx, now, windowStart)
			lgr.Printf("[INFO] daily quota reached (%d/%d), sleeping until %s", count, s.cfg.DailyQuota, wake.Format(time.RFC3339))
			s.setNextRun(wake)
			if !sleepUntil(ctx, wake) {
				return nil
			}
			continue
		}

		if err := s.runCycle(ctx); err != nil {
			return err
		}
	}
}

// quotaWakeTime is the moment the oldest publication in the window ages out
func (s *Scheduler) quotaWakeTime(ctx context.Context, now, windowStart time.Time) time.Time {
	oldest, err := s.store.OldestPublishedSince(ctx, windowStart)
	if err != nil || oldest.IsZero() {
		if err != nil {
			lgr.Printf("[WARN] cannot determine quota window rollover: %v", err)
		}
		return now.Add(quotaRecheck)
	}
	return oldest.Add(24 * time.Hour)
}

// runDaily sleeps to the next configured HH:MM, runs one cycle and repeats
func (s *Scheduler) runDaily(ctx context.Context) error {
	lgr.Printf("[INFO] running daily at %02d:%02d", s.cfg.RunHour, s.cfg.RunMinute)
	for {
		next := s.daily.Next(time.Now())
		lgr.Printf("[INFO] next cycle at %s", next.Format(time.RFC3339))
		s.setNextRun(next)
		if !sleepUntil(ctx, next) {
			return nil
		}
		if err := s.runCycle(ctx); err != nil {
			return err
		}
	}
}

// runCycle performs one full collect-select-publish pass. Scraper and publish
// failures are contained per network and per profile; only store-level
// failures abort the cycle.
func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := uuid.New().String()
	now := time.Now()
	profiles := s.activeProfiles()
	lgr.Printf("[INFO] cycle %s started, %d profiles", cycleID, len(profiles))

	s.setState(StateCollecting)
	fetched, trends := s.collect(ctx, profiles, now)

	if s.enricher != nil {
		for _, profile := range profiles {
			s.enricher.Enrich(ctx, fetched[profile.Name])
		}
	}

	s.setState(StateSelecting)
	records := make([]domain.PublicationRecord, 0, len(profiles))
	for _, profile := range profiles {
		pool := selector.NewPool()
		pool.AddAll(fetched[profile.Name])
		pool.AddAll(trends)

		exclude, err := s.store.PublishedIDs(ctx, profile.Name, now.Add(-s.cfg.DedupWindow))
		if err != nil {
			return fmt.Errorf("published ids for %s: %w", profile.Name, err)
		}

		rec := s.selector.Select(pool.WithoutIDs(exclude), profile, now)
		if rec.Empty() {
			lgr.Printf("[WARN] cycle %s: nothing selected for %s (pool %d items)", cycleID, profile.Name, pool.Size())
		}
		records = append(records, rec)
	}

	s.setState(StatePublishing)
	published, failed := 0, 0
	for _, rec := range records {
		if err := s.publisher.Publish(ctx, rec); err != nil {
			lgr.Printf("[ERROR] cycle %s: publish for %s: %v", cycleID, rec.ProfileName, err)
			failed++
			continue
		}
		if err := s.store.MarkPublished(ctx, rec); err != nil {
			lgr.Printf("[WARN] cycle %s: mark published for %s: %v", cycleID, rec.ProfileName, err)
		}
		published += len(rec.Items())
	}

	if removed, err := s.store.Prune(ctx, now.Add(-s.cfg.DedupWindow)); err != nil {
		lgr.Printf("[WARN] cycle %s: prune: %v", cycleID, err)
	} else if removed > 0 {
		lgr.Printf("[DEBUG] cycle %s: pruned %d stale publications", cycleID, removed)
	}

	s.finishCycle(cycleID, now, published)

	// a single failed profile is contained, but every publish failing means
	// the sheet destination is gone and further cycles would only spin
	if failed > 0 && failed == len(records) {
		return fmt.Errorf("cycle %s: publishing failed for all %d profiles", cycleID, failed)
	}

	lgr.Printf("[INFO] cycle %s done, %d items published", cycleID, published)
	return nil
}

// collect fans out one fetch per (profile, network) pair plus the trend
// sources, joining completely before returning. A failed fetch contributes
// zero items and a warning.
func (s *Scheduler) collect(ctx context.Context, profiles []domain.Profile, now time.Time) (fetched map[string][]domain.ContentItem, trends []domain.ContentItem) {
	since := now.Add(-s.cfg.Lookback)
	fetched = make(map[string][]domain.ContentItem, len(profiles))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)

	if !s.cfg.TrendingOnly {
		for _, profile := range profiles {
			for network, handle := range profile.Handles {
				if s.cfg.NetworkOnly != "" && network != s.cfg.NetworkOnly {
					continue
				}
				sc, ok := s.registry.Scraper(network)
				if !ok {
					lgr.Printf("[DEBUG] no scraper configured for %s, skipping %s", network, profile.Name)
					continue
				}
				g.Go(func() error {
					items, err := sc.Fetch(gctx, handle, since)
					if err != nil {
						lgr.Printf("[WARN] fetch %s/%s for %s failed: %v", network, handle, profile.Name, err)
						return nil // contained, the profile just gets nothing from this network
					}
					mu.Lock()
					fetched[profile.Name] = append(fetched[profile.Name], items...)
					mu.Unlock()
					return nil
				})
			}
		}
	}

	for _, src := range s.registry.TrendSources() {
		g.Go(func() error {
			items, err := src.Trending(gctx)
			if err != nil {
				lgr.Printf("[WARN] trend fetch failed: %v", err)
				return nil
			}
			mu.Lock()
			trends = append(trends, items...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // workers never return errors, failures are logged in place
	return fetched, trends
}

// activeProfiles applies the --profile restriction
func (s *Scheduler) activeProfiles() []domain.Profile {
	if s.cfg.ProfileOnly == "" {
		return s.profiles
	}
	for _, p := range s.profiles {
		if p.Name == s.cfg.ProfileOnly {
			return []domain.Profile{p}
		}
	}
	return nil
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.status.NextRunAt = t
	s.mu.Unlock()
}

func (s *Scheduler) finishCycle(cycleID string, at time.Time, published int) {
	s.mu.Lock()
	s.status.State = StateIdle
	s.status.CyclesDone++
	s.status.ItemsPublished += published
	s.status.LastCycleID = cycleID
	s.status.LastCycleAt = at
	s.mu.Unlock()
}

// sleepUntil blocks until the deadline or context cancellation, reporting
// false when canceled
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
