// Package redis holds the hot shared state between polywatch processes: the
// live price mirror and the signal bus that downstream consumers subscribe
// to.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig carries the connection settings from the [redis] config
// section.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the go-redis connection pool shared by the price cache and
// signal bus.
type Client struct {
	rdb *redis.Client
}

// New opens the connection pool and verifies it with a ping, so a bad
// address or credential surfaces at startup rather than on the first write.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping verifies the connection is still alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw driver client to the cache and bus types in
// this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
