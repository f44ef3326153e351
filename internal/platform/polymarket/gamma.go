package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// gammaPageSize is the page size used when walking the full event list.
const gammaPageSize = 100

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides event and market discovery.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetEvents returns one page of open, active events.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("closed", "false")
	params.Set("active", "true")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var apiEvents []APIEvent
	if err := json.Unmarshal(body, &apiEvents); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	events := make([]domain.Event, 0, len(apiEvents))
	for i := range apiEvents {
		events = append(events, apiEvents[i].ToDomainEvent())
	}
	return events, nil
}

// GetAllActiveEvents walks every page of open, active events and returns the
// combined list.
func (g *GammaClient) GetAllActiveEvents(ctx context.Context) ([]domain.Event, error) {
	var all []domain.Event
	for offset := 0; ; offset += gammaPageSize {
		page, err := g.GetEvents(ctx, gammaPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < gammaPageSize {
			return all, nil
		}
	}
}

// GetEventBySlug returns a single event looked up by its URL slug.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (domain.Event, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return domain.Event{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var apiEvents []APIEvent
	if err := json.Unmarshal(body, &apiEvents); err != nil {
		return domain.Event{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(apiEvents) == 0 {
		return domain.Event{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return apiEvents[0].ToDomainEvent(), nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return apiMarkets[0].ToDomainMarket(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
