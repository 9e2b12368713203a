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
	snapshotHubURL  = "https://hub.snapshot.org/graphql"
	snapshotSiteURL = "https://snapshot.org"
)

// SnapshotFetcher queries the Snapshot hub GraphQL API. Scope is a space id
// ("aave.eth"); batches contain the space's active proposals. The hub
// reports rate limiting both as HTTP 429 and as a "Too Many Requests"
// GraphQL error, and a null space means the scope no longer exists.
type SnapshotFetcher struct {
	endpoint string
	siteURL  string
	client   *http.Client
}

// SnapshotConfig configures a SnapshotFetcher. Zero values select the
// public hub.
type SnapshotConfig struct {
	// Endpoint overrides the GraphQL endpoint, for tests or a private hub.
	Endpoint string
	// SiteURL is the base used to build proposal links.
	SiteURL string
	// Timeout bounds each request; defaults to 30s.
	Timeout time.Duration
}

// NewSnapshotFetcher creates a fetcher with an instrumented HTTP transport.
func NewSnapshotFetcher(cfg SnapshotConfig) *SnapshotFetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = snapshotHubURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = snapshotSiteURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SnapshotFetcher{
		endpoint: cfg.Endpoint,
		siteURL:  strings.TrimSuffix(cfg.SiteURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

const snapshotBatchQuery = `query Proposals($space: String!) {
  space(id: $space) { id }
  proposals(
    first: 1000,
    where: { space_in: [$space], state: "active" },
    orderBy: "created",
    orderDirection: desc
  ) { id title state }
}`

const snapshotProposalQuery = `query Proposal($id: String!) {
  proposal(id: $id) { id title state space { id } }
}`

type snapshotProposal struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
	Space *struct {
		ID string `json:"id"`
	} `json:"space"`
}

// FetchBatch returns the active proposals of one space. A null space in the
// response maps to governance.ErrScopeNotFound.
func (f *SnapshotFetcher) FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	var data struct {
		Space *struct {
			ID string `json:"id"`
		} `json:"space"`
		Proposals []snapshotProposal `json:"proposals"`
	}
	if err := f.query(ctx, snapshotBatchQuery, map[string]any{"space": scope}, &data); err != nil {
		return nil, err
	}
	if data.Space == nil {
		return nil, fmt.Errorf("space %s: %w", scope, governance.ErrScopeNotFound)
	}

	entities := make([]watch.Entity, 0, len(data.Proposals))
	for _, p := range data.Proposals {
		entities = append(entities, f.entity(scope, p))
	}
	return entities, nil
}

// Probe looks up a single proposal. A null proposal means it was deleted
// from the hub.
func (f *SnapshotFetcher) Probe(ctx context.Context, scope, id string) (watch.Entity, bool, error) {
	var data struct {
		Proposal *snapshotProposal `json:"proposal"`
	}
	if err := f.query(ctx, snapshotProposalQuery, map[string]any{"id": id}, &data); err != nil {
		return watch.Entity{}, false, err
	}
	if data.Proposal == nil {
		return watch.Entity{}, false, nil
	}
	return f.entity(scope, *data.Proposal), true, nil
}

func (f *SnapshotFetcher) entity(scope string, p snapshotProposal) watch.Entity {
	return watch.Entity{
		ID:     p.ID,
		Scope:  scope,
		Status: p.State,
		Title:  p.Title,
		URL:    fmt.Sprintf("%s/#/%s/proposal/%s", f.siteURL, scope, p.ID),
	}
}

func (f *SnapshotFetcher) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("snapshot: encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("snapshot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer resp.Body.Close()

	if governance.RateLimitStatus(resp.StatusCode) {
		return governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("snapshot: decode response: %w", err)
	}
	for _, e := range envelope.Errors {
		if strings.Contains(e.Message, "Too Many Requests") {
			return governance.ErrRateLimited
		}
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("snapshot: graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("snapshot: decode data: %w", err)
	}
	return nil
}
