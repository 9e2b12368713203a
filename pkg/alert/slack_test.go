package alert

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

func newSlackServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func slackNotifierFor(t *testing.T, srv *httptest.Server, channel string) *SlackNotifier {
	t.Helper()
	n, err := NewSlackNotifier(SlackConfig{
		BotToken: "xoxb-test",
		Channel:  channel,
		APIBase:  srv.URL,
	})
	require.NoError(t, err)
	return n
}

func TestSlackSendPostsMessage(t *testing.T) {
	var got map[string]any
	srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat.postMessage":
			assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1712.001"})
		default:
			http.NotFound(w, r)
		}
	})

	n := slackNotifierFor(t, srv, "C0123456789")
	res, err := n.Send(context.Background(), Message{
		Title:      "Aave Proposal Active",
		Body:       "AIP-42",
		ActionText: "View Proposal",
		ActionURL:  "https://snapshot.org/#/aave.eth/proposal/0xabc",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "1712.001", res.Anchor)

	assert.Equal(t, "C0123456789", got["channel"])
	assert.NotContains(t, got, "thread_ts")

	blocks, ok := got["blocks"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, blocks)
	header := blocks[0].(map[string]any)
	assert.Equal(t, "header", header["type"])
}

func TestSlackSendThreadsFollowUps(t *testing.T) {
	var got map[string]any
	srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1712.002"})
	})

	n := slackNotifierFor(t, srv, "C0123456789")
	_, err := n.Send(context.Background(), Message{Title: "x", Body: "y", Anchor: "1712.001"})
	require.NoError(t, err)

	assert.Equal(t, "1712.001", got["thread_ts"])
	assert.Equal(t, true, got["reply_broadcast"])
}

func TestSlackSendRejected(t *testing.T) {
	srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	})

	n := slackNotifierFor(t, srv, "C0123456789")
	res, err := n.Send(context.Background(), Message{Title: "x"})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestSlackSendRateLimited(t *testing.T) {
	t.Run("http 429", func(t *testing.T) {
		srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		n := slackNotifierFor(t, srv, "C0123456789")
		_, err := n.Send(context.Background(), Message{Title: "x"})
		assert.ErrorIs(t, err, governance.ErrRateLimited)
	})

	t.Run("api ratelimited", func(t *testing.T) {
		srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "ratelimited"})
		})
		n := slackNotifierFor(t, srv, "C0123456789")
		_, err := n.Send(context.Background(), Message{Title: "x"})
		assert.ErrorIs(t, err, governance.ErrRateLimited)
	})
}

func TestSlackResolvesChannelNameOnce(t *testing.T) {
	infoCalls, listCalls := 0, 0
	srv := newSlackServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversations.info":
			infoCalls++
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
		case "/conversations.list":
			listCalls++
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"channels": []map[string]any{
					{"id": "C0AAAAAAA", "name": "governance-alerts"},
				},
			})
		case "/chat.postMessage":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "C0AAAAAAA", body["channel"])
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1.0"})
		}
	})

	n := slackNotifierFor(t, srv, "#governance-alerts")
	for i := 0; i < 3; i++ {
		_, err := n.Send(context.Background(), Message{Title: "x"})
		require.NoError(t, err)
	}

	// The id lookup happens once and is cached.
	assert.Equal(t, 1, listCalls)
	assert.Equal(t, 1, infoCalls)
}

func TestBuildBlocksIncludesActionButton(t *testing.T) {
	blocks := buildBlocks(Message{
		Title:      "Aave Proposal Active",
		Body:       "AIP-42",
		ActionText: "View Proposal",
		ActionURL:  "https://example.org",
	})
	require.Len(t, blocks, 4)
	assert.Equal(t, "actions", blocks[3]["type"])

	blocks = buildBlocks(Message{Title: "x", Body: "y"})
	require.Len(t, blocks, 3)
}
