package fetch

import (
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

// CosmosChain describes one chain watched through its LCD REST endpoint.
type CosmosChain struct {
	// RestURL is the LCD base, e.g. "https://rest.cosmos.directory/cosmoshub".
	RestURL string
	// ExplorerURL is the base for proposal links; empty disables links.
	ExplorerURL string
	// ExplorerKind selects the link layout: "mintscan" (default) appends
	// /proposals/{id}, "pingpub" appends /{id}.
	ExplorerKind string
}

// CosmosFetcher pulls governance proposals from Cosmos SDK chains. Scope is
// a chain name mapped to its LCD endpoint; unknown scopes are reported as
// governance.ErrScopeNotFound so misconfigured watchlists surface through
// the admin alert. Queries try the gov v1 API first and fall back to
// v1beta1 for chains that never upgraded.
type CosmosFetcher struct {
	chains map[string]CosmosChain
	client *http.Client
}

// NewCosmosFetcher creates a fetcher over the given chain map.
func NewCosmosFetcher(chains map[string]CosmosChain, timeout time.Duration) *CosmosFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CosmosFetcher{
		chains: chains,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// cosmosProposal covers both the v1 and v1beta1 response shapes. v1 carries
// id plus metadata/messages, v1beta1 carries proposal_id plus content.
type cosmosProposal struct {
	ID         string          `json:"id"`
	ProposalID string          `json:"proposal_id"`
	Status     string          `json:"status"`
	Metadata   string          `json:"metadata"`
	Title      string          `json:"title"`
	Messages   []cosmosMessage `json:"messages"`
	Content    *cosmosContent  `json:"content"`
}

type cosmosMessage struct {
	Content *cosmosContent `json:"content"`
}

type cosmosContent struct {
	Title string `json:"title"`
}

func (p cosmosProposal) id() string {
	if p.ID != "" {
		return p.ID
	}
	return p.ProposalID
}

// title digs the display title out of whichever field the chain populates:
// the v1 top-level title, the JSON metadata blob, a message's content, or
// the v1beta1 content block.
func (p cosmosProposal) title() string {
	if p.Title != "" {
		return p.Title
	}
	if p.Metadata != "" {
		var meta struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal([]byte(p.Metadata), &meta); err == nil && meta.Title != "" {
			return meta.Title
		}
	}
	for _, m := range p.Messages {
		if m.Content != nil && m.Content.Title != "" {
			return m.Content.Title
		}
	}
	if p.Content != nil && p.Content.Title != "" {
		return p.Content.Title
	}
	return "Proposal " + p.id()
}

// FetchBatch returns the proposals currently in voting period on one chain.
func (f *CosmosFetcher) FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	chain, ok := f.chains[scope]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", scope, governance.ErrScopeNotFound)
	}

	var data struct {
		Proposals []cosmosProposal `json:"proposals"`
	}
	v1 := chain.RestURL + "/cosmos/gov/v1/proposals?proposal_status=PROPOSAL_STATUS_VOTING_PERIOD"
	v1beta1 := chain.RestURL + "/cosmos/gov/v1beta1/proposals?proposal_status=2"
	if err := f.getWithFallback(ctx, v1, v1beta1, &data); err != nil {
		return nil, fmt.Errorf("chain %s: %w", scope, err)
	}

	entities := make([]watch.Entity, 0, len(data.Proposals))
	for _, p := range data.Proposals {
		entities = append(entities, f.entity(scope, chain, p))
	}
	return entities, nil
}

// Probe looks up one proposal by id, so tracked proposals that left the
// voting-period batch still get their conclusion observed.
func (f *CosmosFetcher) Probe(ctx context.Context, scope, id string) (watch.Entity, bool, error) {
	chain, ok := f.chains[scope]
	if !ok {
		return watch.Entity{}, false, fmt.Errorf("chain %s: %w", scope, governance.ErrScopeNotFound)
	}

	var data struct {
		Proposal *cosmosProposal `json:"proposal"`
	}
	v1 := chain.RestURL + "/cosmos/gov/v1/proposals/" + id
	v1beta1 := chain.RestURL + "/cosmos/gov/v1beta1/proposals/" + id
	err := f.getWithFallback(ctx, v1, v1beta1, &data)
	if err != nil {
		if strings.Contains(err.Error(), "status 404") {
			return watch.Entity{}, false, nil
		}
		return watch.Entity{}, false, fmt.Errorf("chain %s proposal %s: %w", scope, id, err)
	}
	if data.Proposal == nil {
		return watch.Entity{}, false, nil
	}
	return f.entity(scope, chain, *data.Proposal), true, nil
}

func (f *CosmosFetcher) entity(scope string, chain CosmosChain, p cosmosProposal) watch.Entity {
	return watch.Entity{
		ID:     p.id(),
		Scope:  scope,
		Status: p.Status,
		Title:  p.title(),
		URL:    proposalURL(chain, p.id()),
	}
}

func proposalURL(chain CosmosChain, id string) string {
	if chain.ExplorerURL == "" {
		return ""
	}
	base := strings.TrimSuffix(chain.ExplorerURL, "/")
	if chain.ExplorerKind == "pingpub" {
		return base + "/" + id
	}
	return base + "/proposals/" + id
}

// getWithFallback tries the v1 URL and retries on v1beta1 when the chain
// responds 404 or 501 to the modern gov API.
func (f *CosmosFetcher) getWithFallback(ctx context.Context, primary, fallback string, out any) error {
	err := f.get(ctx, primary, out)
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "status 404") || strings.Contains(err.Error(), "status 501") {
		return f.get(ctx, fallback, out)
	}
	return err
}

func (f *CosmosFetcher) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("cosmos: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("cosmos: %w", err)
	}
	defer resp.Body.Close()

	if governance.RateLimitStatus(resp.StatusCode) {
		return governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cosmos: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cosmos: decode response: %w", err)
	}
	return nil
}
