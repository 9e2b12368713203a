package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
state_dir: /var/lib/govbot
metrics_addr: ":9090"
slack:
  bot_token: ${TEST_SLACK_TOKEN}
  channel: "#governance-alerts"
  unfurl_links: true
sources:
  - name: snapshot
    family: snapshot
    watchlist: watchlists/snapshot.json
    poll_interval: 90s
    min_request_interval: 2s
    initial_backoff: 5s
    max_retries: 4
  - name: cosmos
    family: cosmos
    watchlist: watchlists/cosmos.json
`

func TestLoadExpandsEnvAndParses(t *testing.T) {
	t.Setenv("TEST_SLACK_TOKEN", "xoxb-secret")
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "xoxb-secret", cfg.Slack.BotToken)
	assert.Equal(t, "#governance-alerts", cfg.Slack.Channel)
	assert.Equal(t, "/var/lib/govbot", cfg.StateDir)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 90*time.Second, cfg.Sources[0].PollInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Sources[0].MinRequestInterval.Std())
	assert.Equal(t, 4, cfg.Sources[0].MaxRetries)

	// Unset durations stay zero; components fill their own defaults.
	assert.Equal(t, time.Duration(0), cfg.Sources[1].PollInterval.Std())
}

func TestLoadDefaultsStateDir(t *testing.T) {
	t.Setenv("TEST_SLACK_TOKEN", "xoxb-secret")
	path := writeConfig(t, `
slack:
  bot_token: ${TEST_SLACK_TOKEN}
  channel: "#alerts"
sources:
  - name: snapshot
    family: snapshot
    watchlist: w.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/state", cfg.StateDir)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
slack:
  bot_token: t
  channel: "#alerts"
sources:
  - name: snapshot
    family: snapshot
    watchlist: w.json
    poll_interval: ninety
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Slack: SlackConfig{BotToken: "t", Channel: "#alerts"},
			Sources: []SourceConfig{
				{Name: "snapshot", Family: "snapshot", Watchlist: "w.json"},
			},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Slack.BotToken = ""
	assert.ErrorContains(t, cfg.Validate(), "bot_token")

	cfg = base()
	cfg.Sources = nil
	assert.ErrorContains(t, cfg.Validate(), "at least one source")

	cfg = base()
	cfg.Sources = append(cfg.Sources, cfg.Sources[0])
	assert.ErrorContains(t, cfg.Validate(), "duplicate source name")

	cfg = base()
	cfg.Sources[0].Family = "aragon"
	assert.ErrorContains(t, cfg.Validate(), "unknown family")

	cfg = base()
	cfg.Sources[0].Watchlist = ""
	assert.ErrorContains(t, cfg.Validate(), "watchlist path")

	cfg = base()
	cfg.Sources[0].Family = "tally"
	assert.ErrorContains(t, cfg.Validate(), "api_key")
}
