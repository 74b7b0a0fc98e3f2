// Package score computes relevance scores for content items against a
// profile. Scoring is pure and total-ordering compatible: no NaN, no item is
// ever excluded here, ties are the selector's business.
package score

import (
	"time"

	"socialscope/pkg/domain"
)

// Weights holds the tunable scoring knobs
type Weights struct {
	Recency            float64       // weight of the recency component
	Performance        float64       // weight of the engagement component
	Preference         float64       // weight of the preference-match component
	RecencyHorizon     time.Duration // age at which recency decays to zero
	MatchBonus         float64       // contribution of a known matching attribute
	MismatchPenalty    float64       // contribution of a known mismatching attribute
	PerformanceCeiling float64       // clamp for normalized engagement
}

// DefaultWeights returns the default scoring configuration
func DefaultWeights() Weights {
	return Weights{
		Recency:            0.3,
		Performance:        0.4,
		Preference:         0.3,
		RecencyHorizon:     72 * time.Hour,
		MatchBonus:         1.0,
		MismatchPenalty:    1.0,
		PerformanceCeiling: 5.0,
	}
}

// Scorer maps (item, profile, now) to a relevance score
type Scorer struct {
	w Weights
}

// New creates a scorer with the given weights
func New(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score computes the weighted relevance of an item for a profile at a given
// moment. Deterministic for fixed inputs.
func (s *Scorer) Score(item domain.ContentItem, profile domain.Profile, now time.Time) float64 {
	return s.w.Recency*s.Recency(item, now) +
		s.w.Performance*s.performance(item, profile) +
		s.w.Preference*s.preferenceMatch(item, profile)
}

// Recency returns the freshness component in [0,1]. Trend items have no
// publish time and count as maximally fresh; a missing timestamp on anything
// else scores zero but stays finite and comparable.
func (s *Scorer) Recency(item domain.ContentItem, now time.Time) float64 {
	if item.Category == domain.CategoryTrend {
		return 1
	}
	if item.PublishedAt.IsZero() {
		return 0
	}
	age := now.Sub(item.PublishedAt).Hours()
	if age < 0 {
		age = 0
	}
	r := 1 - age/s.w.RecencyHorizon.Hours()
	if r < 0 {
		return 0
	}
	return r
}

// performance normalizes engagement by the profile's average reach, clamped
// so a single viral outlier cannot dominate the ranking
func (s *Scorer) performance(item domain.ContentItem, profile domain.Profile) float64 {
	baseline := profile.AvgViews
	if baseline < 1 {
		baseline = 1
	}
	p := item.Engagement / baseline
	if p > s.w.PerformanceCeiling {
		return s.w.PerformanceCeiling
	}
	return p
}

// preferenceMatch sums the three tri-state attribute matches. Unknown item
// attributes and indifferent profile preferences contribute nothing.
func (s *Scorer) preferenceMatch(item domain.ContentItem, profile domain.Profile) float64 {
	sum := 0.0
	sum += s.attrMatch(item.HasSpeech, profile.PrefersSpeaking)
	sum += s.attrMatch(item.HasCaptions, profile.PrefersCaptions)
	sum += s.attrMatch(item.HasMusic, profile.PrefersMusic)
	return sum
}

func (s *Scorer) attrMatch(attr, pref domain.Tri) float64 {
	if !attr.Known() || !pref.Known() {
		return 0
	}
	if attr == pref {
		return s.w.MatchBonus
	}
	return -s.w.MismatchPenalty
}
