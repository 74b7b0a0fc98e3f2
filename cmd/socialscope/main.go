package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"socialscope/pkg/config"
	"socialscope/pkg/domain"
	"socialscope/pkg/enrich"
	"socialscope/pkg/publish"
	"socialscope/pkg/repository"
	"socialscope/pkg/scheduler"
	"socialscope/pkg/score"
	"socialscope/pkg/scraper"
	"socialscope/pkg/selector"
	"socialscope/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// run modes, mutually exclusive; --once is the default
	Once       bool   `long:"once" description:"run a single collection cycle and exit"`
	Continuous bool   `long:"continuous" description:"run cycles until the daily quota is reached"`
	At         string `long:"at" description:"run daily at HH:MM" value-name:"HH:MM"`

	// run restrictions
	Network      string `long:"network" description:"restrict collection to one network"`
	Profile      string `long:"profile" description:"restrict collection to one profile"`
	TrendingOnly bool   `long:"trending-only" description:"collect trend feeds only, skip profile content"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	if opts.NoColor {
		color.NoColor = true
	}

	setupLog(opts.Debug)
	lgr.Printf("[INFO] starting socialscope version %s", revision)

	if err := run(opts); err != nil {
		lgr.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	lgr.Printf("[INFO] shutdown complete")
}

func run(opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load config %s: %w", opts.Config, err)
	}
	if cfg.Enrichment.APIKey != "" {
		setupLog(opts.Debug, cfg.Enrichment.APIKey)
	}

	schedCfg, err := schedulerConfig(opts, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Printf("[INFO] termination signal received, stopping at cycle boundary")
		cancel()
	}()

	repo, err := repository.New(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() {
		if e := repo.Close(); e != nil {
			lgr.Printf("[WARN] repository close: %v", e)
		}
	}()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	sel := selector.New(score.New(score.Weights{
		Recency:            cfg.Scoring.RecencyWeight,
		Performance:        cfg.Scoring.PerformanceWeight,
		Preference:         cfg.Scoring.PreferenceWeight,
		RecencyHorizon:     cfg.Scoring.RecencyHorizon,
		MatchBonus:         cfg.Scoring.MatchBonus,
		MismatchPenalty:    cfg.Scoring.MismatchPenalty,
		PerformanceCeiling: cfg.Scoring.PerformanceCeiling,
	}))

	pub := publish.NewPublisher(publish.NewCSVWriter(cfg.Publish.Dir),
		cfg.Publish.RetryAttempts, cfg.Publish.RetryInitialDelay, cfg.Publish.RetryMaxDelay)

	var enricher scheduler.Enricher
	if cfg.Enrichment.Enabled {
		enricher = enrich.New(cfg.Enrichment)
		lgr.Printf("[INFO] attribute enrichment enabled, model %s", cfg.Enrichment.Model)
	}

	profiles := cfg.DomainProfiles()
	sched := scheduler.New(repo, pub, enricher, sel, registry, profiles, schedCfg)

	srv := server.New(cfg, sched, profiles, revision, opts.Debug)
	go func() {
		if e := srv.Run(ctx); e != nil {
			lgr.Printf("[WARN] status server failed: %v", e)
		}
	}()

	return sched.Run(ctx)
}

// schedulerConfig resolves CLI flags and config into run loop settings. Any
// inconsistency is a startup error, nothing is deferred to run time.
func schedulerConfig(opts Opts, cfg *config.Config) (scheduler.Config, error) {
	modes := 0
	for _, set := range []bool{opts.Once, opts.Continuous, opts.At != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return scheduler.Config{}, fmt.Errorf("--once, --continuous and --at are mutually exclusive")
	}

	res := scheduler.Config{
		Mode:         scheduler.ModeOnce,
		DailyQuota:   cfg.Schedule.DailyQuota,
		DedupWindow:  cfg.Schedule.DedupWindow,
		Lookback:     cfg.Schedule.Lookback,
		TrendingOnly: opts.TrendingOnly,
		ProfileOnly:  opts.Profile,
	}

	switch {
	case opts.Continuous:
		res.Mode = scheduler.ModeContinuous
	case opts.At != "":
		hour, minute, err := config.ParseRunAt(opts.At)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("invalid --at: %w", err)
		}
		res.Mode = scheduler.ModeDaily
		res.RunHour, res.RunMinute = hour, minute
	}

	if opts.Network != "" {
		network, err := domain.ParseNetwork(opts.Network)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("invalid --network: %w", err)
		}
		res.NetworkOnly = network
	}

	if opts.Profile != "" {
		found := false
		for _, p := range cfg.Profiles {
			if p.Name == opts.Profile {
				found = true
				break
			}
		}
		if !found {
			return scheduler.Config{}, fmt.Errorf("unknown profile %q", opts.Profile)
		}
	}

	return res, nil
}

// buildRegistry wires bridge scrapers and trend feeds from the sources config
func buildRegistry(cfg *config.Config) (*scraper.Registry, error) {
	registry := scraper.NewRegistry()
	for name, src := range cfg.Sources {
		network, err := domain.ParseNetwork(name)
		if err != nil {
			return nil, fmt.Errorf("sources: %w", err)
		}
		if src.Bridge != "" {
			registry.Register(network, scraper.NewBridgeScraper(network, src.Bridge, src.Timeout))
			lgr.Printf("[INFO] bridge scraper registered for %s", network)
		}
		if src.TrendTags != "" {
			registry.RegisterTrends(scraper.NewTrendFeed(network, domain.TrendHashtag, src.TrendTags, src.Timeout))
			lgr.Printf("[INFO] trending hashtags feed registered for %s", network)
		}
		if src.TrendSounds != "" {
			registry.RegisterTrends(scraper.NewTrendFeed(network, domain.TrendSound, src.TrendSounds, src.Timeout))
			lgr.Printf("[INFO] trending sounds feed registered for %s", network)
		}
	}
	return registry, nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
