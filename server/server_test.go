package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialscope/pkg/domain"
	"socialscope/pkg/scheduler"
)

type fakeScheduler struct{ status scheduler.Status }

func (f *fakeScheduler) Status() scheduler.Status { return f.status }

type fakeConfig struct{}

func (f *fakeConfig) GetServerConfig() (string, time.Duration) { return "127.0.0.1:0", 5 * time.Second }

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	sched := &fakeScheduler{status: scheduler.Status{
		State:      scheduler.StateIdle,
		Mode:       scheduler.ModeContinuous,
		Profiles:   2,
		CyclesDone: 3,
	}}
	profiles := []domain.Profile{
		{
			Name:    "talia",
			Handles: map[domain.Network]string{domain.NetworkInstagram: "talia_srz"},
			Quotas:  map[domain.Category]int{domain.CategoryPhoto: 2},
		},
		{Name: "lea"},
	}

	s := New(&fakeConfig{}, sched, profiles, "test-version", false)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_StatusHandler(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Version string           `json:"version"`
		Run     scheduler.Status `json:"run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test-version", body.Version)
	assert.Equal(t, scheduler.StateIdle, body.Run.State)
	assert.Equal(t, 3, body.Run.CyclesDone)
}

func TestServer_ProfilesHandler(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/profiles")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []profileInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "talia", infos[0].Name)
	assert.Equal(t, "talia_srz", infos[0].Handles["instagram"])
	assert.Equal(t, 2, infos[0].Quotas["photo"])
}

func TestServer_Ping(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
