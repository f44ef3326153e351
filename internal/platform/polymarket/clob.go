package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. The monitor uses only the public, unauthenticated
// orderbook and price endpoints.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetBook fetches the full orderbook for a token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (domain.BookSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	snap := book.ToDomainBook()
	if snap.AssetID == "" {
		snap.AssetID = tokenID
	}
	snap.Timestamp = time.Now()
	return snap, nil
}

// GetPrice fetches the current price for a token. side is "sell" for the
// best ask or "buy" for the best bid. It returns domain.ErrNotFound when
// the market has no resting liquidity on that side.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", side)

	body, err := c.doGet(ctx, "/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price %s: %w", tokenID, err)
	}

	var resp struct {
		Price flexFloat `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode price: %w", err)
	}
	price := float64(resp.Price)
	if price <= 0 {
		return 0, fmt.Errorf("polymarket/clob: price %s: %w", tokenID, domain.ErrNotFound)
	}
	return price, nil
}

// GetBestAsk fetches the current best ask for a token.
func (c *ClobClient) GetBestAsk(ctx context.Context, tokenID string) (float64, error) {
	return c.GetPrice(ctx, tokenID, "sell")
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the CLOB API.
func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
