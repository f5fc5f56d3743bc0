package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GenerateIntegers returns r.N integers in [r.Min, r.Max].
func (c *Client) GenerateIntegers(ctx context.Context, r IntegerRequest) ([]int, error) {
	return generate[int](ctx, c, r)
}

// GenerateIntegerSequences returns r.N sequences of r.Length integers.
func (c *Client) GenerateIntegerSequences(ctx context.Context, r IntegerSequenceRequest) ([][]int, error) {
	return generate[[]int](ctx, c, r)
}

// GenerateDecimalFractions returns r.N decimal fractions in [0, 1).
func (c *Client) GenerateDecimalFractions(ctx context.Context, r DecimalFractionRequest) ([]float64, error) {
	return generate[float64](ctx, c, r)
}

// GenerateGaussians returns r.N values from the requested normal distribution.
func (c *Client) GenerateGaussians(ctx context.Context, r GaussianRequest) ([]float64, error) {
	return generate[float64](ctx, c, r)
}

// GenerateStrings returns r.N random strings.
func (c *Client) GenerateStrings(ctx context.Context, r StringRequest) ([]string, error) {
	return generate[string](ctx, c, r)
}

// GenerateUUIDs returns r.N version 4 UUIDs.
func (c *Client) GenerateUUIDs(ctx context.Context, r UUIDRequest) ([]uuid.UUID, error) {
	return generate[uuid.UUID](ctx, c, r)
}

// GenerateBlobs returns r.N encoded blobs.
func (c *Client) GenerateBlobs(ctx context.Context, r BlobRequest) ([]string, error) {
	return generate[string](ctx, c, r)
}

// GetUsage fetches the credential's status and remaining allowance.
// The response also refreshes the counters tracked by the Client.
func (c *Client) GetUsage(ctx context.Context) (Usage, error) {
	req := &Request{
		Method: MethodGetUsage,
		Params: map[string]any{paramAPIKey: c.apiKey},
	}

	resp, err := c.Dispatch(ctx, req)
	if err != nil {
		return Usage{}, err
	}

	var u Usage
	if err := json.Unmarshal(resp.Result, &u); err != nil {
		return Usage{}, fmt.Errorf("decoding usage: %w", err)
	}
	u.FetchedAt = c.now()

	return u, nil
}

func generate[T any](ctx context.Context, c *Client, cfg requestConfig) ([]T, error) {
	req, err := c.build(cfg)
	if err != nil {
		return nil, err
	}

	resp, err := c.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	data, _, err := decodeData[T](resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}

	return data, nil
}
