package domain

// Profile is the static per-creator configuration. Loaded once at startup,
// immutable during a run.
type Profile struct {
	Name            string
	Handles         map[Network]string
	PrefersSpeaking Tri
	PrefersCaptions Tri
	PrefersMusic    Tri
	AvgViews        float64 // engagement normalization baseline
	Quotas          map[Category]int
}

// Quota returns the per-cycle winner cap for a category, 0 if not configured
func (p Profile) Quota(c Category) int {
	return p.Quotas[c]
}

// OnNetwork reports whether the profile has a handle configured for a network
func (p Profile) OnNetwork(n Network) bool {
	h, ok := p.Handles[n]
	return ok && h != ""
}
