package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

const (
	tallyAPIURL  = "https://api.tally.xyz/query"
	tallySiteURL = "https://www.tally.xyz/gov"
)

// TallyFetcher queries the Tally GraphQL API for governor proposals. Scope
// is a governor id in "eip155-chain:address" form. Tally returns proposals
// in every lifecycle state in one batch, so no probing is needed; status
// labels are lowercased to match the policy table.
type TallyFetcher struct {
	endpoint string
	siteURL  string
	apiKey   string
	client   *http.Client
}

// TallyConfig configures a TallyFetcher.
type TallyConfig struct {
	// APIKey is required by the Tally API on every request.
	APIKey string
	// Endpoint overrides the GraphQL endpoint, for tests.
	Endpoint string
	// SiteURL is the base for proposal links.
	SiteURL string
	// Timeout bounds each request; defaults to 30s.
	Timeout time.Duration
}

// NewTallyFetcher creates a fetcher with an instrumented HTTP transport.
func NewTallyFetcher(cfg TallyConfig) (*TallyFetcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tally: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tallyAPIURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = tallySiteURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TallyFetcher{
		endpoint: cfg.Endpoint,
		siteURL:  strings.TrimSuffix(cfg.SiteURL, "/"),
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

const tallyProposalsQuery = `query GetProposals($input: ProposalsInput!) {
  proposals(input: $input) {
    nodes {
      ... on Proposal {
        id
        status
        governor { slug }
        metadata { title }
      }
    }
  }
}`

// FetchBatch returns every proposal of one governor.
func (f *TallyFetcher) FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	variables := map[string]any{
		"input": map[string]any{
			"filters": map[string]any{"governorId": scope},
		},
	}

	var data struct {
		Proposals struct {
			Nodes []struct {
				ID       string `json:"id"`
				Status   string `json:"status"`
				Governor struct {
					Slug string `json:"slug"`
				} `json:"governor"`
				Metadata struct {
					Title string `json:"title"`
				} `json:"metadata"`
			} `json:"nodes"`
		} `json:"proposals"`
	}
	if err := f.query(ctx, tallyProposalsQuery, variables, &data); err != nil {
		return nil, fmt.Errorf("governor %s: %w", scope, err)
	}

	entities := make([]watch.Entity, 0, len(data.Proposals.Nodes))
	for _, p := range data.Proposals.Nodes {
		if p.ID == "" {
			continue
		}
		title := p.Metadata.Title
		if title == "" {
			title = "Proposal " + p.ID
		}
		url := ""
		if p.Governor.Slug != "" {
			url = fmt.Sprintf("%s/%s/proposal/%s", f.siteURL, p.Governor.Slug, p.ID)
		}
		entities = append(entities, watch.Entity{
			ID:     p.ID,
			Scope:  scope,
			Status: strings.ToLower(p.Status),
			Title:  title,
			URL:    url,
		})
	}
	return entities, nil
}

func (f *TallyFetcher) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("tally: encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tally: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("tally: %w", err)
	}
	defer resp.Body.Close()

	if governance.RateLimitStatus(resp.StatusCode) {
		return governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tally: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("tally: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		if strings.Contains(envelope.Errors[0].Message, "Too Many Requests") {
			return governance.ErrRateLimited
		}
		return fmt.Errorf("tally: graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("tally: decode data: %w", err)
	}
	return nil
}
