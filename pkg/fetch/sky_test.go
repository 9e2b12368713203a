package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
)

func skyFetcherFor(t *testing.T, handler http.HandlerFunc) *SkyFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSkyFetcher(SkyConfig{BaseURL: srv.URL})
}

func TestSkyFetchPolls(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/polling/active-poll-ids":
			json.NewEncoder(w).Encode([]int{1101, 1102})
		case "/api/polling/1101":
			json.NewEncoder(w).Encode(map[string]any{
				"pollId": 1101, "title": "Rate Adjustment", "slug": "rate-adjustment",
				"endDate": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			})
		case "/api/polling/1102":
			// Listed but already rolled off the detail endpoint.
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	batch, err := f.FetchBatch(context.Background(), SkyScopePoll)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "1101", batch[0].ID)
	assert.Equal(t, SkyScopePoll, batch[0].Scope)
	assert.Equal(t, "active", batch[0].Status)
	assert.Contains(t, batch[0].URL, "/polling/rate-adjustment")
}

func TestSkyPollPastEndDateIsEnded(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {})
	f.now = func() time.Time { return time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC) }

	ent := f.pollEntity(skyPoll{PollID: 9, Title: "Old", EndDate: "2026-08-01T00:00:00Z"})
	assert.Equal(t, "ended", ent.Status)
}

func TestSkyFetchPollsNoneActive(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	batch, err := f.FetchBatch(context.Background(), SkyScopePoll)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestSkyFetchExecutives(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/executive", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"key": "0xaaa", "title": "Lite PSM", "active": true,
				"spellData": map[string]any{"hasBeenCast": false, "skySupport": "81.5"},
			},
			{
				"key": "0xbbb", "title": "Old Spell", "active": false,
				"spellData": map[string]any{"hasBeenCast": true, "skySupport": 12.25},
			},
			{
				"key": "0xccc", "title": "Passed Spell", "active": false,
				"spellData": map[string]any{"hasBeenCast": false},
			},
		})
	})

	batch, err := f.FetchBatch(context.Background(), SkyScopeExecutive)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, "active", batch[0].Status)
	require.NotNil(t, batch[0].Support)
	assert.InDelta(t, 81.5, *batch[0].Support, 0.001)

	assert.Equal(t, "executed", batch[1].Status)
	require.NotNil(t, batch[1].Support)
	assert.InDelta(t, 12.25, *batch[1].Support, 0.001)

	assert.Equal(t, "passed", batch[2].Status)
	assert.Nil(t, batch[2].Support)
}

func TestSkyUnknownScope(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.FetchBatch(context.Background(), "spell")
	assert.ErrorIs(t, err, governance.ErrScopeNotFound)
}

func TestSkyProbeMissingPoll(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, found, err := f.Probe(context.Background(), SkyScopePoll, "1101")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSkyRateLimited(t *testing.T) {
	f := skyFetcherFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := f.FetchBatch(context.Background(), SkyScopeExecutive)
	assert.ErrorIs(t, err, governance.ErrRateLimited)
}
