package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest feed prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for detected
// anomalies, triggers, and opportunities.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
