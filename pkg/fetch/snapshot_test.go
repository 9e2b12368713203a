package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
)

func snapshotServer(t *testing.T, respond func(query string, variables map[string]any) any) *SnapshotFetcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(respond(req.Query, req.Variables))
	}))
	t.Cleanup(srv.Close)
	return NewSnapshotFetcher(SnapshotConfig{Endpoint: srv.URL})
}

func TestSnapshotFetchBatch(t *testing.T) {
	f := snapshotServer(t, func(query string, variables map[string]any) any {
		assert.Equal(t, "aave.eth", variables["space"])
		return map[string]any{"data": map[string]any{
			"space": map[string]any{"id": "aave.eth"},
			"proposals": []map[string]any{
				{"id": "0x1", "title": "AIP-1", "state": "active"},
				{"id": "0x2", "title": "AIP-2", "state": "active"},
			},
		}}
	})

	batch, err := f.FetchBatch(context.Background(), "aave.eth")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "0x1", batch[0].ID)
	assert.Equal(t, "aave.eth", batch[0].Scope)
	assert.Equal(t, "active", batch[0].Status)
	assert.Contains(t, batch[0].URL, "/#/aave.eth/proposal/0x1")
}

func TestSnapshotFetchBatchUnknownSpace(t *testing.T) {
	f := snapshotServer(t, func(string, map[string]any) any {
		return map[string]any{"data": map[string]any{"space": nil, "proposals": []any{}}}
	})

	_, err := f.FetchBatch(context.Background(), "gone.eth")
	assert.ErrorIs(t, err, governance.ErrScopeNotFound)
}

func TestSnapshotRateLimitedViaGraphQLError(t *testing.T) {
	f := snapshotServer(t, func(string, map[string]any) any {
		return map[string]any{"errors": []map[string]any{{"message": "Too Many Requests"}}}
	})

	_, err := f.FetchBatch(context.Background(), "aave.eth")
	assert.ErrorIs(t, err, governance.ErrRateLimited)
}

func TestSnapshotRateLimitedViaStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	f := NewSnapshotFetcher(SnapshotConfig{Endpoint: srv.URL})

	_, err := f.FetchBatch(context.Background(), "aave.eth")
	assert.ErrorIs(t, err, governance.ErrRateLimited)
}

func TestSnapshotProbe(t *testing.T) {
	f := snapshotServer(t, func(query string, variables map[string]any) any {
		if variables["id"] == "0x1" {
			return map[string]any{"data": map[string]any{
				"proposal": map[string]any{"id": "0x1", "title": "AIP-1", "state": "closed"},
			}}
		}
		return map[string]any{"data": map[string]any{"proposal": nil}}
	})

	ent, found, err := f.Probe(context.Background(), "aave.eth", "0x1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "closed", ent.Status)

	_, found, err = f.Probe(context.Background(), "aave.eth", "0xdeleted")
	require.NoError(t, err)
	assert.False(t, found)
}
