package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
)

const slackAPIBase = "https://slack.com/api"

// SlackNotifier posts messages with a bot token via chat.postMessage. The
// message anchor maps onto Slack thread timestamps: the ts of the initial
// message is returned as the anchor, and follow-ups carrying an anchor are
// posted as thread replies with reply_broadcast so they stay visible in the
// channel.
type SlackNotifier struct {
	token       string
	channel     string
	apiBase     string
	unfurlLinks bool
	client      *http.Client

	mu        sync.Mutex
	channelID string
}

// SlackConfig configures a SlackNotifier.
type SlackConfig struct {
	// BotToken is the xoxb- bot token.
	BotToken string
	// Channel is a channel ID or #name; names are resolved once via the
	// conversations API and cached.
	Channel string
	// UnfurlLinks enables link previews on posted messages.
	UnfurlLinks bool
	// APIBase overrides the Slack API base URL, for tests.
	APIBase string
	// Timeout bounds each API call; defaults to 30s.
	Timeout time.Duration
}

// NewSlackNotifier creates a notifier. The HTTP transport is instrumented
// for tracing.
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = slackAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &SlackNotifier{
		token:       cfg.BotToken,
		channel:     cfg.Channel,
		apiBase:     cfg.APIBase,
		unfurlLinks: cfg.UnfurlLinks,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Send implements Notifier.
func (n *SlackNotifier) Send(ctx context.Context, msg Message) (SendResult, error) {
	channelID, err := n.resolveChannelID(ctx)
	if err != nil {
		return SendResult{}, fmt.Errorf("slack: resolve channel: %w", err)
	}

	payload := map[string]any{
		"channel":      channelID,
		"text":         fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body),
		"blocks":       buildBlocks(msg),
		"unfurl_links": n.unfurlLinks,
		"unfurl_media": false,
		"link_names":   true,
	}
	if msg.Anchor != "" {
		payload["thread_ts"] = msg.Anchor
		payload["reply_broadcast"] = true
	}

	var resp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error"`
	}
	if err := n.call(ctx, "chat.postMessage", payload, &resp); err != nil {
		return SendResult{}, err
	}
	if !resp.OK {
		if resp.Error == "ratelimited" {
			return SendResult{}, governance.ErrRateLimited
		}
		return SendResult{}, nil
	}
	return SendResult{OK: true, Anchor: resp.TS}, nil
}

// resolveChannelID turns a #name into a channel ID, trying conversations.info
// first and falling back to listing channels. The result is cached for the
// life of the notifier.
func (n *SlackNotifier) resolveChannelID(ctx context.Context) (string, error) {
	n.mu.Lock()
	cached := n.channelID
	n.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var info struct {
		OK      bool `json:"ok"`
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := n.get(ctx, "conversations.info", url.Values{"channel": {n.channel}}, &info); err == nil && info.OK {
		n.mu.Lock()
		n.channelID = info.Channel.ID
		n.mu.Unlock()
		return info.Channel.ID, nil
	}

	var list struct {
		OK       bool `json:"ok"`
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
	}
	if err := n.get(ctx, "conversations.list", url.Values{"types": {"public_channel,private_channel"}}, &list); err != nil {
		return "", err
	}
	if list.OK {
		name := strings.TrimPrefix(n.channel, "#")
		for _, ch := range list.Channels {
			if ch.Name == name {
				n.mu.Lock()
				n.channelID = ch.ID
				n.mu.Unlock()
				return ch.ID, nil
			}
		}
	}
	return "", fmt.Errorf("channel %q not found", n.channel)
}

func (n *SlackNotifier) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")

	return n.do(req, method, out)
}

func (n *SlackNotifier) get(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.apiBase+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("slack: build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)

	return n.do(req, method, out)
}

func (n *SlackNotifier) do(req *http.Request, method string, out any) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if governance.RateLimitStatus(resp.StatusCode) {
		return governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: %s: unexpected status %d", method, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	return nil
}

// buildBlocks renders the message as block kit: header for the title, a
// context block for the body, a divider, and an action button when the
// message carries a link.
func buildBlocks(msg Message) []map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type":  "plain_text",
				"text":  msg.Title,
				"emoji": true,
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": msg.Body},
			},
		},
		{"type": "divider"},
	}
	if msg.ActionText != "" && msg.ActionURL != "" {
		blocks = append(blocks, map[string]any{
			"type": "actions",
			"elements": []map[string]any{
				{
					"type": "button",
					"text": map[string]any{
						"type":  "plain_text",
						"text":  msg.ActionText,
						"emoji": true,
					},
					"url": msg.ActionURL,
				},
			},
		})
	}
	return blocks
}
