package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// IntegerCache keeps result sets of r.N integers ready.
func (c *Client) IntegerCache(ctx context.Context, r IntegerRequest, opts ...CacheOption) (*Cache[int], error) {
	return newTypedCache[int](ctx, c, r, r.N, r.bits(), !r.Unique, opts)
}

// IntegerSequenceCache keeps result sets of r.N sequences ready.
func (c *Client) IntegerSequenceCache(ctx context.Context, r IntegerSequenceRequest, opts ...CacheOption) (*Cache[[]int], error) {
	return newTypedCache[[]int](ctx, c, r, r.N, r.bits(), !r.Unique, opts)
}

// DecimalFractionCache keeps result sets of r.N decimal fractions ready.
func (c *Client) DecimalFractionCache(ctx context.Context, r DecimalFractionRequest, opts ...CacheOption) (*Cache[float64], error) {
	return newTypedCache[float64](ctx, c, r, r.N, r.bits(), !r.Unique, opts)
}

// GaussianCache keeps result sets of r.N gaussians ready. Gaussian draws are
// always independent, so the cache always runs in bulk mode.
func (c *Client) GaussianCache(ctx context.Context, r GaussianRequest, opts ...CacheOption) (*Cache[float64], error) {
	return newTypedCache[float64](ctx, c, r, r.N, r.bits(), true, opts)
}

// StringCache keeps result sets of r.N strings ready.
func (c *Client) StringCache(ctx context.Context, r StringRequest, opts ...CacheOption) (*Cache[string], error) {
	return newTypedCache[string](ctx, c, r, r.N, r.bits(), !r.Unique, opts)
}

// UUIDCache keeps result sets of r.N UUIDs ready.
func (c *Client) UUIDCache(ctx context.Context, r UUIDRequest, opts ...CacheOption) (*Cache[uuid.UUID], error) {
	return newTypedCache[uuid.UUID](ctx, c, r, r.N, r.bits(), true, opts)
}

// BlobCache keeps result sets of r.N blobs ready.
func (c *Client) BlobCache(ctx context.Context, r BlobRequest, opts ...CacheOption) (*Cache[string], error) {
	return newTypedCache[string](ctx, c, r, r.N, r.bits(), true, opts)
}

// newTypedCache validates cfg, applies the cache options and picks the bulk
// factor: half the cache size when draws are independent across result sets,
// single mode otherwise.
func newTypedCache[T any](ctx context.Context, c *Client, cfg requestConfig, single, unitBits int, bulk bool, optFns []CacheOption) (*Cache[T], error) {
	opts := cacheOpts{
		size:   defaultCacheSize,
		logger: c.logger,
	}
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying cache option: %w", err)
		}
	}
	if opts.logger == nil {
		opts.logger = c.logger
	}

	req, err := c.build(cfg)
	if err != nil {
		return nil, err
	}

	var factor int
	if bulk {
		factor = opts.size / 2
	}

	return NewCache[T](ctx, c.Dispatch, req, CacheConfig{
		Size:        opts.size,
		BulkFactor:  factor,
		SingleCount: single,
		UnitBits:    unitBits,
		Logger:      opts.logger.With("cache", cfg.method()),
		Metrics:     c.metrics,
	})
}
