package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialscope/pkg/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
profiles:
  - name: talia
    handles:
      instagram: talia_srz
      twitter: talia_srz
    avg_views: 4000
    prefers:
      speaking: no
      captions: yes
      music: yes
    quotas:
      photo: 2
      video: 1
      short_form: 1
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "file:socialscope.db?cache=shared&mode=rwc&_txlock=immediate", cfg.Database.DSN)
	assert.Equal(t, "02:00", cfg.Schedule.RunAt)
	assert.Equal(t, 50, cfg.Schedule.DailyQuota)
	assert.Equal(t, 7*24*time.Hour, cfg.Schedule.DedupWindow)
	assert.InDelta(t, 0.3, cfg.Scoring.RecencyWeight, 1e-12)
	assert.InDelta(t, 0.4, cfg.Scoring.PerformanceWeight, 1e-12)
	assert.InDelta(t, 0.3, cfg.Scoring.PreferenceWeight, 1e-12)
	assert.Equal(t, 72*time.Hour, cfg.Scoring.RecencyHorizon)
	assert.InDelta(t, 5.0, cfg.Scoring.PerformanceCeiling, 1e-12)
	assert.Equal(t, 5, cfg.Publish.RetryAttempts)
}

func TestLoad_DomainProfiles(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	profiles := cfg.DomainProfiles()
	require.Len(t, profiles, 1)
	p := profiles[0]
	assert.Equal(t, "talia", p.Name)
	assert.Equal(t, "talia_srz", p.Handles[domain.NetworkInstagram])
	assert.False(t, p.OnNetwork(domain.NetworkTikTok))
	assert.Equal(t, domain.TriNo, p.PrefersSpeaking)
	assert.Equal(t, domain.TriYes, p.PrefersCaptions)
	assert.Equal(t, domain.TriYes, p.PrefersMusic)
	assert.InDelta(t, 4000, p.AvgViews, 1e-12)
	assert.Equal(t, 2, p.Quota(domain.CategoryPhoto))
	assert.Equal(t, 1, p.Quota(domain.CategoryVideo))
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SHEETS_DIR", "/tmp/sheets-test")
	cfg, err := Load(writeConfig(t, minimalConfig+`
publish:
  dir: ${SHEETS_DIR}
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sheets-test", cfg.Publish.Dir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no profiles",
			content: "server:\n  listen: :8080\n",
			errMsg:  "at least one profile is required",
		},
		{
			name: "duplicate profile",
			content: `
profiles:
  - name: talia
    handles: {instagram: a}
  - name: talia
    handles: {instagram: b}
`,
			errMsg: "duplicate profile name",
		},
		{
			name: "unknown network handle",
			content: `
profiles:
  - name: talia
    handles: {myspace: talia}
`,
			errMsg: "unknown network",
		},
		{
			name: "bad preference value",
			content: `
profiles:
  - name: talia
    handles: {instagram: talia}
    prefers: {music: maybe}
`,
			errMsg: "invalid preference",
		},
		{
			name: "bad quota category",
			content: `
profiles:
  - name: talia
    handles: {instagram: talia}
    quotas: {stories: 1}
`,
			errMsg: "unknown category",
		},
		{
			name: "hour out of range",
			content: minimalConfig + `
schedule:
  run_at: "25:00"
`,
			errMsg: "invalid hour",
		},
		{
			name: "bridge without placeholder",
			content: minimalConfig + `
sources:
  instagram:
    bridge: https://bridge.example.com/instagram/feed
`,
			errMsg: "must contain a {handle} placeholder",
		},
		{
			name: "enrichment without endpoint",
			content: minimalConfig + `
enrichment:
  enabled: true
  model: gpt-4o-mini
`,
			errMsg: "enrichment.endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestParseRunAt(t *testing.T) {
	hour, minute, err := ParseRunAt("02:30")
	require.NoError(t, err)
	assert.Equal(t, 2, hour)
	assert.Equal(t, 30, minute)

	for _, bad := range []string{"", "2", "24:00", "12:60", "ab:cd"} {
		_, _, err := ParseRunAt(bad)
		assert.Error(t, err, "value %q", bad)
	}
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema()
	require.NoError(t, err)
	assert.NotNil(t, schema)
}
