// Package config loads the monitor configuration from YAML. Environment
// variables are expanded before parsing so credentials never live in the
// file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

// Duration wraps time.Duration so YAML values can be written as "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	// StateDir holds the per-source state documents and the admin-alert
	// document. Defaults to "data/state".
	StateDir string `yaml:"state_dir"`
	// MetricsAddr, when set, serves Prometheus metrics ("[host]:port").
	MetricsAddr string `yaml:"metrics_addr"`

	Slack     SlackConfig     `yaml:"slack"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// SlackConfig carries the notifier credentials. BotToken is normally
// written as ${SLACK_BOT_TOKEN} in the file.
type SlackConfig struct {
	BotToken    string `yaml:"bot_token"`
	Channel     string `yaml:"channel"`
	UnfurlLinks bool   `yaml:"unfurl_links"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Environment string            `yaml:"environment"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// SourceConfig configures one governance source.
type SourceConfig struct {
	// Name identifies the source in logs, metrics, and state file names.
	Name string `yaml:"name"`
	// Family selects the transition policy table; see watch.PolicyForFamily.
	Family string `yaml:"family"`
	// Watchlist is the path of the source's watchlist document.
	Watchlist string `yaml:"watchlist"`
	// PollInterval is the sleep between passes; defaults to 60s.
	PollInterval Duration `yaml:"poll_interval"`
	// FetchTimeout bounds each upstream fetch; defaults to 30s.
	FetchTimeout Duration `yaml:"fetch_timeout"`
	// MinRequestInterval spaces upstream requests; defaults to 1s.
	MinRequestInterval Duration `yaml:"min_request_interval"`
	// InitialBackoff seeds the rate-limit backoff; defaults to 2s.
	InitialBackoff Duration `yaml:"initial_backoff"`
	// MaxRetries bounds consecutive rate-limit backoffs; defaults to 3.
	MaxRetries int `yaml:"max_retries"`
	// Endpoint overrides the family's default upstream URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates to upstreams that require one (tally). Normally
	// written as ${TALLY_API_KEY} in the file.
	APIKey string `yaml:"api_key"`
}

// Load reads the file at path, expands environment variables, parses it,
// applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = "data/state"
	}
}

// Validate checks the fields the monitors cannot start without. A missing
// credential is fatal at load time; per-source shape problems are reported
// with the offending source named.
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required (set SLACK_BOT_TOKEN)")
	}
	if c.Slack.Channel == "" {
		return fmt.Errorf("slack.channel is required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = true

		if _, ok := watch.PolicyForFamily(src.Family); !ok {
			return fmt.Errorf("source %s: unknown family %q", src.Name, src.Family)
		}
		if src.Watchlist == "" {
			return fmt.Errorf("source %s: watchlist path is required", src.Name)
		}
		if src.Family == "tally" && src.APIKey == "" {
			return fmt.Errorf("source %s: api_key is required (set TALLY_API_KEY)", src.Name)
		}
		if src.MaxRetries < 0 {
			return fmt.Errorf("source %s: max_retries must not be negative", src.Name)
		}
	}
	return nil
}
