package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"socialscope/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=Status HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Status server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:socialscope.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule" jsonschema:"description=Run loop configuration"`

	Scoring ScoringConfig `yaml:"scoring" json:"scoring" jsonschema:"description=Relevance scoring knobs"`

	Publish PublishConfig `yaml:"publish" json:"publish" jsonschema:"description=Sheet publishing configuration"`

	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment" jsonschema:"description=Optional LLM attribute enrichment"`

	Sources map[string]SourceConfig `yaml:"sources" json:"sources" jsonschema:"description=Per-network content source endpoints"`

	Profiles []ProfileConfig `yaml:"profiles" json:"profiles" jsonschema:"required,description=Creator profiles"`
}

// ScheduleConfig holds run loop settings shared by all modes
type ScheduleConfig struct {
	RunAt       string        `yaml:"run_at" json:"run_at" jsonschema:"default=02:00,description=Daily run time HH:MM (scheduled mode)"`
	DailyQuota  int           `yaml:"daily_quota" json:"daily_quota" jsonschema:"default=50,description=Max items published in a rolling 24h window (continuous mode)"`
	DedupWindow time.Duration `yaml:"dedup_window" json:"dedup_window" jsonschema:"default=168h,description=How long a published item id stays excluded from re-selection"`
	Lookback    time.Duration `yaml:"lookback" json:"lookback" jsonschema:"default=336h,description=How far back scrapers are asked for content"`
}

// ScoringConfig holds the scorer knobs; see pkg/score for semantics
type ScoringConfig struct {
	RecencyWeight      float64       `yaml:"recency_weight" json:"recency_weight" jsonschema:"default=0.3"`
	PerformanceWeight  float64       `yaml:"performance_weight" json:"performance_weight" jsonschema:"default=0.4"`
	PreferenceWeight   float64       `yaml:"preference_weight" json:"preference_weight" jsonschema:"default=0.3"`
	RecencyHorizon     time.Duration `yaml:"recency_horizon" json:"recency_horizon" jsonschema:"default=72h,description=Age at which recency decays to zero"`
	MatchBonus         float64       `yaml:"match_bonus" json:"match_bonus" jsonschema:"default=1.0"`
	MismatchPenalty    float64       `yaml:"mismatch_penalty" json:"mismatch_penalty" jsonschema:"default=1.0"`
	PerformanceCeiling float64       `yaml:"performance_ceiling" json:"performance_ceiling" jsonschema:"default=5.0,description=Clamp for normalized engagement"`
}

// PublishConfig holds sheet writer settings
type PublishConfig struct {
	Dir               string        `yaml:"dir" json:"dir" jsonschema:"default=sheets,description=Directory for per-profile CSV sheets"`
	RetryAttempts     int           `yaml:"retry_attempts" json:"retry_attempts" jsonschema:"default=5,description=Bounded retries for a recoverable publish failure"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" json:"retry_initial_delay" jsonschema:"default=1s"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" json:"retry_max_delay" jsonschema:"default=30s"`
}

// EnrichmentConfig holds LLM settings for inferring item attributes
type EnrichmentConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable LLM attribute enrichment"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"description=Model name (e.g. gpt-4o-mini)"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.1"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=500"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s"`
}

// SourceConfig describes where content for one network comes from. The bridge
// URL template gets {handle} substituted per profile.
type SourceConfig struct {
	Bridge      string        `yaml:"bridge" json:"bridge" jsonschema:"description=Syndication bridge URL template with {handle} placeholder"`
	TrendTags   string        `yaml:"trend_tags" json:"trend_tags" jsonschema:"description=Feed URL for trending hashtags"`
	TrendSounds string        `yaml:"trend_sounds" json:"trend_sounds" jsonschema:"description=Feed URL for trending sounds"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Fetch timeout"`
}

// ProfileConfig is one creator profile as configured
type ProfileConfig struct {
	Name     string            `yaml:"name" json:"name" jsonschema:"required"`
	Handles  map[string]string `yaml:"handles" json:"handles" jsonschema:"required,description=Network to handle mapping"`
	AvgViews float64           `yaml:"avg_views" json:"avg_views" jsonschema:"default=1000,description=Engagement normalization baseline"`
	Prefers  struct {
		Speaking string `yaml:"speaking" json:"speaking" jsonschema:"enum=yes,enum=no,enum=any,default=any"`
		Captions string `yaml:"captions" json:"captions" jsonschema:"enum=yes,enum=no,enum=any,default=any"`
		Music    string `yaml:"music" json:"music" jsonschema:"enum=yes,enum=no,enum=any,default=any"`
	} `yaml:"prefers" json:"prefers" jsonschema:"description=Tri-state style preferences"`
	Quotas map[string]int `yaml:"quotas" json:"quotas" jsonschema:"description=Max winners per category per cycle"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "file:socialscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	if c.Schedule.RunAt == "" {
		c.Schedule.RunAt = "02:00"
	}
	if c.Schedule.DailyQuota == 0 {
		c.Schedule.DailyQuota = 50
	}
	if c.Schedule.DedupWindow == 0 {
		c.Schedule.DedupWindow = 7 * 24 * time.Hour
	}
	if c.Schedule.Lookback == 0 {
		c.Schedule.Lookback = 14 * 24 * time.Hour
	}

	if c.Scoring.RecencyWeight == 0 && c.Scoring.PerformanceWeight == 0 && c.Scoring.PreferenceWeight == 0 {
		c.Scoring.RecencyWeight = 0.3
		c.Scoring.PerformanceWeight = 0.4
		c.Scoring.PreferenceWeight = 0.3
	}
	if c.Scoring.RecencyHorizon == 0 {
		c.Scoring.RecencyHorizon = 72 * time.Hour
	}
	if c.Scoring.MatchBonus == 0 {
		c.Scoring.MatchBonus = 1.0
	}
	if c.Scoring.MismatchPenalty == 0 {
		c.Scoring.MismatchPenalty = 1.0
	}
	if c.Scoring.PerformanceCeiling == 0 {
		c.Scoring.PerformanceCeiling = 5.0
	}

	if c.Publish.Dir == "" {
		c.Publish.Dir = "sheets"
	}
	if c.Publish.RetryAttempts == 0 {
		c.Publish.RetryAttempts = 5
	}
	if c.Publish.RetryInitialDelay == 0 {
		c.Publish.RetryInitialDelay = time.Second
	}
	if c.Publish.RetryMaxDelay == 0 {
		c.Publish.RetryMaxDelay = 30 * time.Second
	}

	if c.Enrichment.Temperature == 0 {
		c.Enrichment.Temperature = 0.1
	}
	if c.Enrichment.MaxTokens == 0 {
		c.Enrichment.MaxTokens = 500
	}
	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = 30 * time.Second
	}

	for name, src := range c.Sources {
		if src.Timeout == 0 {
			src.Timeout = 30 * time.Second
			c.Sources[name] = src
		}
	}

	for i := range c.Profiles {
		if c.Profiles[i].AvgViews == 0 {
			c.Profiles[i].AvgViews = 1000
		}
		if c.Profiles[i].Quotas == nil {
			c.Profiles[i].Quotas = map[string]int{"photo": 2, "video": 1, "short_form": 1}
		}
	}
}

// validate checks configuration for correctness; any failure here is fatal
// at startup, never mid-run
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	if _, _, err := ParseRunAt(cfg.Schedule.RunAt); err != nil {
		return fmt.Errorf("schedule.run_at: %w", err)
	}
	if cfg.Schedule.DailyQuota < 1 {
		return fmt.Errorf("schedule.daily_quota must be at least 1")
	}
	if cfg.Schedule.DedupWindow < time.Hour {
		return fmt.Errorf("schedule.dedup_window must be at least 1 hour")
	}

	if cfg.Scoring.RecencyWeight < 0 || cfg.Scoring.PerformanceWeight < 0 || cfg.Scoring.PreferenceWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if cfg.Scoring.RecencyWeight+cfg.Scoring.PerformanceWeight+cfg.Scoring.PreferenceWeight == 0 {
		return fmt.Errorf("at least one scoring weight must be positive")
	}
	if cfg.Scoring.RecencyHorizon <= 0 {
		return fmt.Errorf("scoring.recency_horizon must be positive")
	}
	if cfg.Scoring.PerformanceCeiling <= 0 {
		return fmt.Errorf("scoring.performance_ceiling must be positive")
	}

	if cfg.Publish.RetryAttempts < 1 {
		return fmt.Errorf("publish.retry_attempts must be at least 1")
	}

	if cfg.Enrichment.Enabled {
		if cfg.Enrichment.Endpoint == "" {
			return fmt.Errorf("enrichment.endpoint is required when enrichment is enabled")
		}
		if cfg.Enrichment.Model == "" {
			return fmt.Errorf("enrichment.model is required when enrichment is enabled")
		}
	}

	for name, src := range cfg.Sources {
		if _, err := domain.ParseNetwork(name); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
		if src.Bridge != "" && !strings.Contains(src.Bridge, "{handle}") {
			return fmt.Errorf("sources.%s.bridge must contain a {handle} placeholder", name)
		}
	}

	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true

		if len(p.Handles) == 0 {
			return fmt.Errorf("profile %s: at least one network handle is required", p.Name)
		}
		for network := range p.Handles {
			if _, err := domain.ParseNetwork(network); err != nil {
				return fmt.Errorf("profile %s: %w", p.Name, err)
			}
		}
		for _, v := range []string{p.Prefers.Speaking, p.Prefers.Captions, p.Prefers.Music} {
			if _, err := parseTri(v); err != nil {
				return fmt.Errorf("profile %s: %w", p.Name, err)
			}
		}
		for category, quota := range p.Quotas {
			if _, err := domain.ParseCategory(category); err != nil {
				return fmt.Errorf("profile %s: %w", p.Name, err)
			}
			if quota < 0 {
				return fmt.Errorf("profile %s: quota for %s must be non-negative", p.Name, category)
			}
		}
		if p.AvgViews < 0 {
			return fmt.Errorf("profile %s: avg_views must be non-negative", p.Name)
		}
	}

	return nil
}

// ParseRunAt parses an HH:MM daily schedule, hour 0-23 and minute 0-59
func ParseRunAt(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q, must be 0-23", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q, must be 0-59", s)
	}
	return hour, minute, nil
}

// parseTri converts a yaml preference value to a domain tri-state
func parseTri(s string) (domain.Tri, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "indifferent":
		return domain.TriUnknown, nil
	case "yes", "true":
		return domain.TriYes, nil
	case "no", "false":
		return domain.TriNo, nil
	}
	return domain.TriUnknown, fmt.Errorf("invalid preference %q, expected yes, no or any", s)
}

// DomainProfiles converts configured profiles to domain profiles. Call after
// Load so tri-state values are known valid.
func (c *Config) DomainProfiles() []domain.Profile {
	profiles := make([]domain.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		handles := make(map[domain.Network]string, len(p.Handles))
		for network, handle := range p.Handles {
			if handle == "" {
				continue
			}
			handles[domain.Network(network)] = handle
		}
		quotas := make(map[domain.Category]int, len(p.Quotas))
		for category, quota := range p.Quotas {
			quotas[domain.Category(category)] = quota
		}
		speaking, _ := parseTri(p.Prefers.Speaking)
		captions, _ := parseTri(p.Prefers.Captions)
		music, _ := parseTri(p.Prefers.Music)

		profiles = append(profiles, domain.Profile{
			Name:            p.Name,
			Handles:         handles,
			PrefersSpeaking: speaking,
			PrefersCaptions: captions,
			PrefersMusic:    music,
			AvgViews:        p.AvgViews,
			Quotas:          quotas,
		})
	}
	return profiles
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
