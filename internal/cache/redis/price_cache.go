package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

// pricePrefix namespaces polywatch price keys so the instance can share a
// Redis database with other tools.
const pricePrefix = "polywatch:price:"

// PriceCache mirrors the latest feed price of every subscribed asset into
// Redis so other processes can read the board without holding a websocket of
// their own. Each asset is a hash at "polywatch:price:{assetID}" with a
// "price" field and a "ts" field in Unix nanoseconds.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache builds a PriceCache on the shared client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(assetID string) string {
	return pricePrefix + assetID
}

// decodePrice reads the price and timestamp fields out of one hash. It
// reports false when the hash is missing or malformed.
func decodePrice(vals map[string]string) (float64, time.Time, bool) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, tsNano), true
}

// SetPrice writes the latest price and its feed timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice reads the latest price and timestamp for an asset. It returns
// domain.ErrNotFound when the asset has never been written.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	price, ts, ok := decodePrice(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices reads the latest prices for a batch of assets with one pipeline
// round trip. Assets never written are left out of the result.
func (pc *PriceCache) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(assetIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := decodePrice(vals); ok {
			result[id] = price
		}
	}
	return result, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
