package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

const skyPortalURL = "https://vote.sky.money"

// Sky proposal kinds, used as fetch scopes.
const (
	SkyScopePoll      = "poll"
	SkyScopeExecutive = "executive"
)

// SkyFetcher watches the Sky governance portal. Polls and executive votes
// live on different API routes with different shapes, so the scope selects
// the kind: SkyScopePoll or SkyScopeExecutive.
type SkyFetcher struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// SkyConfig configures a SkyFetcher. Zero values select the public portal.
type SkyConfig struct {
	// BaseURL overrides the portal base, for tests.
	BaseURL string
	// Timeout bounds each request; defaults to 30s.
	Timeout time.Duration
}

// NewSkyFetcher creates a fetcher with an instrumented HTTP transport.
func NewSkyFetcher(cfg SkyConfig) *SkyFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = skyPortalURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SkyFetcher{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

type skyPoll struct {
	PollID  int    `json:"pollId"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	EndDate string `json:"endDate"`
}

type skyExecutive struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Active    bool   `json:"active"`
	SpellData struct {
		HasBeenCast bool `json:"hasBeenCast"`
		SkySupport  any  `json:"skySupport"`
	} `json:"spellData"`
}

// FetchBatch dispatches on the scope kind.
func (f *SkyFetcher) FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	switch scope {
	case SkyScopePoll:
		return f.fetchPolls(ctx)
	case SkyScopeExecutive:
		return f.fetchExecutives(ctx)
	default:
		return nil, fmt.Errorf("sky kind %s: %w", scope, governance.ErrScopeNotFound)
	}
}

// Probe looks up a single poll or executive. Polls are removed from the
// API once concluded, so a 404 here is the normal conclusion signal.
func (f *SkyFetcher) Probe(ctx context.Context, scope, id string) (watch.Entity, bool, error) {
	switch scope {
	case SkyScopePoll:
		var poll skyPoll
		found, err := f.getOptional(ctx, f.baseURL+"/api/polling/"+id, &poll)
		if err != nil || !found {
			return watch.Entity{}, false, err
		}
		return f.pollEntity(poll), true, nil
	case SkyScopeExecutive:
		var exec skyExecutive
		found, err := f.getOptional(ctx, f.baseURL+"/api/executive/"+id, &exec)
		if err != nil || !found {
			return watch.Entity{}, false, err
		}
		return f.executiveEntity(exec), true, nil
	default:
		return watch.Entity{}, false, fmt.Errorf("sky kind %s: %w", scope, governance.ErrScopeNotFound)
	}
}

// fetchPolls lists the active poll ids, then loads each poll for its
// display data. The id list 404s when nothing is active.
func (f *SkyFetcher) fetchPolls(ctx context.Context) ([]watch.Entity, error) {
	var ids []int
	found, err := f.getOptional(ctx, f.baseURL+"/api/polling/active-poll-ids", &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	entities := make([]watch.Entity, 0, len(ids))
	for _, id := range ids {
		var poll skyPoll
		found, err := f.getOptional(ctx, f.baseURL+"/api/polling/"+strconv.Itoa(id), &poll)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		entities = append(entities, f.pollEntity(poll))
	}
	return entities, nil
}

func (f *SkyFetcher) fetchExecutives(ctx context.Context) ([]watch.Entity, error) {
	var execs []skyExecutive
	found, err := f.getOptional(ctx, f.baseURL+"/api/executive", &execs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	entities := make([]watch.Entity, 0, len(execs))
	for _, e := range execs {
		if e.Key == "" {
			continue
		}
		entities = append(entities, f.executiveEntity(e))
	}
	return entities, nil
}

func (f *SkyFetcher) pollEntity(poll skyPoll) watch.Entity {
	status := "active"
	if end, err := time.Parse(time.RFC3339, poll.EndDate); err == nil && end.Before(f.now()) {
		status = "ended"
	}

	url := ""
	if poll.Slug != "" {
		url = f.baseURL + "/polling/" + poll.Slug
	}
	return watch.Entity{
		ID:     strconv.Itoa(poll.PollID),
		Scope:  SkyScopePoll,
		Status: status,
		Title:  poll.Title,
		URL:    url,
	}
}

func (f *SkyFetcher) executiveEntity(e skyExecutive) watch.Entity {
	status := "active"
	switch {
	case e.SpellData.HasBeenCast:
		status = "executed"
	case !e.Active:
		status = "passed"
	}

	return watch.Entity{
		ID:      e.Key,
		Scope:   SkyScopeExecutive,
		Status:  status,
		Title:   e.Title,
		URL:     f.baseURL + "/executive/" + e.Key,
		Support: parseSupport(e.SpellData.SkySupport),
	}
}

// parseSupport coerces the portal's skySupport field, which arrives as
// either a JSON number or a numeric string.
func parseSupport(v any) *float64 {
	switch s := v.(type) {
	case float64:
		return &s
	case string:
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

// getOptional performs a GET where 404 is a meaningful "not there" answer
// rather than an error.
func (f *SkyFetcher) getOptional(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("sky: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sky: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if governance.RateLimitStatus(resp.StatusCode) {
		return false, governance.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("sky: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("sky: decode response: %w", err)
	}
	return true, nil
}
