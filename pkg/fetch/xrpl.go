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

const (
	xrpscanAPIURL  = "https://api.xrpscan.com"
	xrpscanSiteURL = "https://xrpscan.com/amendment"
)

// XRPLFetcher watches XRP Ledger amendments through the XRPScan API. There
// is one global amendment registry, so the scope only labels the entities;
// any scope is valid. Amendment lifecycle maps onto three labels:
// "supported" (seeking validator majority), "enabled", and "unsupported"
// for everything else, which the policy leaves untracked.
type XRPLFetcher struct {
	apiURL  string
	siteURL string
	client  *http.Client
}

// XRPLConfig configures an XRPLFetcher. Zero values select XRPScan.
type XRPLConfig struct {
	// APIURL overrides the XRPScan API base, for tests.
	APIURL string
	// SiteURL is the base for amendment links.
	SiteURL string
	// Timeout bounds each request; defaults to 30s.
	Timeout time.Duration
}

// NewXRPLFetcher creates a fetcher with an instrumented HTTP transport.
func NewXRPLFetcher(cfg XRPLConfig) *XRPLFetcher {
	if cfg.APIURL == "" {
		cfg.APIURL = xrpscanAPIURL
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = xrpscanSiteURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &XRPLFetcher{
		apiURL:  strings.TrimSuffix(cfg.APIURL, "/"),
		siteURL: strings.TrimSuffix(cfg.SiteURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type xrplAmendment struct {
	AmendmentID string `json:"amendment_id"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Supported   bool   `json:"supported"`
}

func (a xrplAmendment) status() string {
	switch {
	case a.Enabled:
		return "enabled"
	case a.Supported:
		return "supported"
	default:
		return "unsupported"
	}
}

// FetchBatch returns every known amendment. Enabled amendments stay in the
// batch, so terminal transitions are visible without probing.
func (f *XRPLFetcher) FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	var amendments []xrplAmendment
	if err := f.get(ctx, f.apiURL+"/api/v1/amendments", &amendments); err != nil {
		return nil, err
	}

	entities := make([]watch.Entity, 0, len(amendments))
	for _, a := range amendments {
		if a.AmendmentID == "" {
			continue
		}
		entities = append(entities, f.entity(scope, a))
	}
	return entities, nil
}

// Probe looks up a single amendment by id.
func (f *XRPLFetcher) Probe(ctx context.Context, scope, id string) (watch.Entity, bool, error) {
	var a xrplAmendment
	err := f.get(ctx, f.apiURL+"/api/v1/amendment/"+id, &a)
	if err != nil {
		if strings.Contains(err.Error(), "status 404") {
			return watch.Entity{}, false, nil
		}
		return watch.Entity{}, false, err
	}
	if a.AmendmentID == "" {
		return watch.Entity{}, false, nil
	}
	return f.entity(scope, a), true, nil
}

func (f *XRPLFetcher) entity(scope string, a xrplAmendment) watch.Entity {
	title := a.Name
	if title == "" {
		title = a.AmendmentID
	}
	return watch.Entity{
		ID:     a.AmendmentID,
		Scope:  scope,
		Status: a.status(),
		Title:  title,
		URL:    f.siteURL + "/" + a.AmendmentID,
	}
}

func (f *XRPLFetcher) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("xrpl: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("xrpl: %w", err)
	}
	defer resp.Body.Close()

	if governance.RateLimitStatus(resp.StatusCode) {
		return governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("xrpl: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("xrpl: decode response: %w", err)
	}
	return nil
}
