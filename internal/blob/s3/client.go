// Package s3blob ships aged alert and trigger rows to S3-compatible object
// storage as JSONL batches. Any provider speaking the S3 API works; the
// endpoint and addressing style come from the [s3] config section.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig carries the object store connection settings.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for self-hosted or third-party
	// stores. Empty means standard AWS S3.
	Endpoint string

	// Region, or whatever the provider accepts in its place.
	Region string

	// Bucket receives every archive object.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint has none.
	UseSSL bool

	// ForcePathStyle puts the bucket in the URL path. Most non-AWS stores
	// need this.
	ForcePathStyle bool
}

// Client wraps the SDK client with the archive bucket baked in.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the client with static credentials and, when configured, a
// custom endpoint and path-style addressing.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := ensureScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health checks that the archive bucket exists and the credentials can reach
// it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close exists for the app cleanup chain; the SDK client holds no resources
// needing teardown.
func (c *Client) Close() error {
	return nil
}

// S3 exposes the SDK client to the writer in this package.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// ensureScheme prepends http:// or https:// when the endpoint has no scheme.
func ensureScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
