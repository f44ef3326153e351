package oddsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// Config holds connection parameters for The Odds API.
type Config struct {
	BaseURL   string
	ApiKey    string
	Sport     string
	Bookmaker string
	Regions   string
	Timeout   time.Duration
}

// Client is the REST client for The Odds API v4. Every response carries
// credit accounting headers which the client tracks across calls.
type Client struct {
	cfg        Config
	httpClient *http.Client

	creditsUsed      atomic.Int64
	creditsRemaining atomic.Int64
}

// New creates a new Odds API client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Regions == "" {
		cfg.Regions = "us"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Credits returns the credit counters from the most recent response.
func (c *Client) Credits() (used, remaining int64) {
	return c.creditsUsed.Load(), c.creditsRemaining.Load()
}

// GetSportOdds fetches current odds for every upcoming game of the
// configured sport, restricted to the configured bookmaker and the given
// market keys.
func (c *Client) GetSportOdds(ctx context.Context, markets ...string) ([]APIGame, error) {
	path := fmt.Sprintf("/sports/%s/odds", url.PathEscape(c.cfg.Sport))
	body, err := c.doGet(ctx, path, markets)
	if err != nil {
		return nil, fmt.Errorf("oddsapi: get sport odds: %w", err)
	}

	var games []APIGame
	if err := json.Unmarshal(body, &games); err != nil {
		return nil, fmt.Errorf("oddsapi: decode sport odds: %w", err)
	}
	return games, nil
}

// GetEventOdds fetches odds for a single game, which is the only way to
// request alternate lines.
func (c *Client) GetEventOdds(ctx context.Context, eventID string, markets ...string) (APIGame, error) {
	path := fmt.Sprintf("/sports/%s/events/%s/odds",
		url.PathEscape(c.cfg.Sport), url.PathEscape(eventID))
	body, err := c.doGet(ctx, path, markets)
	if err != nil {
		return APIGame{}, fmt.Errorf("oddsapi: get event odds %s: %w", eventID, err)
	}

	var game APIGame
	if err := json.Unmarshal(body, &game); err != nil {
		return APIGame{}, fmt.Errorf("oddsapi: decode event odds: %w", err)
	}
	return game, nil
}

// GetTotals fetches and de-vigs the totals line for every upcoming game
// from the configured bookmaker. Games where the bookmaker quotes no
// totals market are skipped.
func (c *Client) GetTotals(ctx context.Context) ([]TotalLine, error) {
	games, err := c.GetSportOdds(ctx, MarketTotals)
	if err != nil {
		return nil, err
	}

	var lines []TotalLine
	for i := range games {
		g := &games[i]
		book, ok := g.Bookmaker(c.cfg.Bookmaker)
		if !ok {
			continue
		}
		m, ok := book.Market(MarketTotals)
		if !ok {
			continue
		}
		over, okOver := firstOutcome(m.Outcomes, "Over")
		under, okUnder := firstOutcome(m.Outcomes, "Under")
		if !okOver || !okUnder {
			continue
		}
		overImp, underImp := DeVig(over.Price, under.Price)
		lines = append(lines, TotalLine{
			GameID:       g.ID,
			HomeTeam:     g.HomeTeam,
			AwayTeam:     g.AwayTeam,
			CommenceTime: g.CommenceTime,
			Line:         over.Point,
			OverOdds:     over.Price,
			UnderOdds:    under.Price,
			OverImplied:  overImp,
			UnderImplied: underImp,
		})
	}
	return lines, nil
}

func firstOutcome(outcomes []APIOutcome, name string) (APIOutcome, bool) {
	for _, out := range outcomes {
		if out.Name == name {
			return out, true
		}
	}
	return APIOutcome{}, false
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string, markets []string) ([]byte, error) {
	params := url.Values{}
	params.Set("apiKey", c.cfg.ApiKey)
	params.Set("regions", c.cfg.Regions)
	params.Set("oddsFormat", "decimal")
	if len(markets) > 0 {
		params.Set("markets", strings.Join(markets, ","))
	}
	if c.cfg.Bookmaker != "" {
		params.Set("bookmakers", c.cfg.Bookmaker)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.trackCredits(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// trackCredits records the x-requests-used / x-requests-remaining headers.
func (c *Client) trackCredits(h http.Header) {
	if v := h.Get("x-requests-used"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.creditsUsed.Store(n)
		}
	}
	if v := h.Get("x-requests-remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.creditsRemaining.Store(n)
		}
	}
}
