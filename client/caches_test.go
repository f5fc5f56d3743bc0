package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adamwoolhether/randrpc/client"
)

// tickingClock moves forward by step on every reading, so pacing never
// has to sleep.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestClient_IntegerCache_EndToEnd(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	first := response(t, generated("[3,7,1,10,2,5,5,9,4,8]", 34, 100000, 999, 0))
	inv := &fakeInvoker{
		respond: func(ctx context.Context, n int, req *client.Request) (*client.Response, error) {
			if n == 0 {
				return first, nil
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return mustResponse(generated("[1,2,3,4,5,6,7,8,9,10]", 34, 99966, 998, 0)), nil
		},
	}
	c := newTestClient(t, inv)

	cache, err := c.IntegerCache(t.Context(), client.IntegerRequest{N: 5, Min: 1, Max: 10}, client.WithCacheSize(4))
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	t.Cleanup(cache.Stop)

	waitFor(t, "first batch", func() bool { return cache.CachedValues() == 2 })

	req := inv.call(0)
	if req.Method != client.MethodGenerateIntegers {
		t.Errorf("exp %s; got %s", client.MethodGenerateIntegers, req.Method)
	}
	if got := req.Params["n"]; got != 10 {
		t.Errorf("exp first population call for n=10; got %v", got)
	}
	if got := req.Params["apiKey"]; got != testKey {
		t.Errorf("exp credential in params; got %v", got)
	}

	set, err := cache.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 5 {
		t.Fatalf("exp 5 integers; got %v", set)
	}
	for _, v := range set {
		if v < 1 || v > 10 {
			t.Errorf("value %d out of range [1, 10]", v)
		}
	}
	if got := cache.CachedValues(); got != 1 {
		t.Errorf("exp one result set left; got %d", got)
	}

	waitFor(t, "repopulation attempt", func() bool { return inv.count() == 2 })
}

func TestClient_IntegerCache_ShrinksOnBits(t *testing.T) {
	clock := &tickingClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), step: 10 * time.Second}

	bits := response(t, rpcError(403, "The API key has insufficient bits", "[17]"))
	stop := response(t, rpcError(500, "Service unavailable", "[]"))
	inv := &fakeInvoker{
		respond: func(_ context.Context, n int, req *client.Request) (*client.Response, error) {
			switch n {
			case 0:
				return bits, nil
			case 1:
				return serveN(req), nil
			default:
				return stop, nil
			}
		},
	}
	c := newTestClient(t, inv, client.WithClock(clock.Now))

	// 5 draws from [1, 10] cost ceil(log2(10) * 5) = 17 bits.
	cache, err := c.IntegerCache(t.Context(), client.IntegerRequest{N: 5, Min: 1, Max: 10}, client.WithCacheSize(4))
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	t.Cleanup(cache.Stop)

	waitFor(t, "pending failure", func() bool { return cache.Err() != nil })

	var ns []any
	for i := range inv.count() {
		ns = append(ns, inv.call(i).Params["n"])
	}
	if len(ns) != 3 || ns[0] != 10 || ns[1] != 5 || ns[2] != 10 {
		t.Errorf("exp request sizes [10 5 10]; got %v", ns)
	}
	if got := cache.CachedValues(); got != 1 {
		t.Errorf("exp 1 result set from the shrunk request; got %d", got)
	}
	if !errors.Is(cache.Err(), client.ErrServer) {
		t.Errorf("exp ErrServer to be recorded; got %v", cache.Err())
	}
}

func TestClient_TypedCaches(t *testing.T) {
	testCases := map[string]struct {
		build     func(ctx context.Context, c *client.Client) (stopper, error)
		expMethod string
		expN      int
	}{
		"integersBulk": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.IntegerCache(ctx, client.IntegerRequest{N: 5, Min: 1, Max: 10}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateIntegers,
			expN:      10,
		},
		"integersUnique": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.IntegerCache(ctx, client.IntegerRequest{N: 5, Min: 1, Max: 10, Unique: true}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateIntegers,
			expN:      5,
		},
		"integersDefaultSize": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.IntegerCache(ctx, client.IntegerRequest{N: 3, Min: 0, Max: 1})
			},
			expMethod: client.MethodGenerateIntegers,
			expN:      30,
		},
		"sizeRaisedToMinimum": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.IntegerCache(ctx, client.IntegerRequest{N: 3, Min: 0, Max: 1}, client.WithCacheSize(1))
			},
			expMethod: client.MethodGenerateIntegers,
			expN:      3,
		},
		"sequences": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.IntegerSequenceCache(ctx, client.IntegerSequenceRequest{N: 2, Length: 3, Min: 1, Max: 6}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateIntegerSequences,
			expN:      4,
		},
		"decimals": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.DecimalFractionCache(ctx, client.DecimalFractionRequest{N: 3, DecimalPlaces: 4}, client.WithCacheSize(6))
			},
			expMethod: client.MethodGenerateDecimalFractions,
			expN:      9,
		},
		"gaussians": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.GaussianCache(ctx, client.GaussianRequest{N: 2, Mean: 0, StandardDeviation: 1, SignificantDigits: 6}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateGaussians,
			expN:      4,
		},
		"stringsUnique": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.StringCache(ctx, client.StringRequest{N: 2, Length: 8, Characters: "abcdef", Unique: true}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateStrings,
			expN:      2,
		},
		"uuids": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.UUIDCache(ctx, client.UUIDRequest{N: 1}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateUUIDs,
			expN:      2,
		},
		"blobs": {
			build: func(ctx context.Context, c *client.Client) (stopper, error) {
				return c.BlobCache(ctx, client.BlobRequest{N: 1, Size: 128}, client.WithCacheSize(4))
			},
			expMethod: client.MethodGenerateBlobs,
			expN:      2,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			inv := replying(t, rpcError(500, "Service unavailable", "[]"))
			c := newTestClient(t, inv)

			cache, err := tc.build(t.Context(), c)
			if err != nil {
				t.Fatalf("creating cache: %v", err)
			}
			t.Cleanup(cache.Stop)

			waitFor(t, "first population call", func() bool { return inv.count() >= 1 })

			req := inv.call(0)
			if req.Method != tc.expMethod {
				t.Errorf("exp method %s; got %s", tc.expMethod, req.Method)
			}
			if got := req.Params["n"]; got != tc.expN {
				t.Errorf("exp n=%d; got %v", tc.expN, got)
			}
		})
	}
}

// stopper is satisfied by every typed cache.
type stopper interface {
	Stop()
}

func TestClient_TypedCaches_Invalid(t *testing.T) {
	inv := replying(t, generated("[1]", 1, 1000, 100, 0))
	c := newTestClient(t, inv)

	_, err := c.IntegerCache(t.Context(), client.IntegerRequest{N: 0, Min: 1, Max: 10})
	var fields client.FieldErrors
	if !errors.As(err, &fields) {
		t.Fatalf("exp FieldErrors; got %v", err)
	}
	if _, ok := fields.Fields()["n"]; !ok {
		t.Errorf("exp a failure on n; got %v", fields)
	}

	if _, err := c.IntegerCache(t.Context(), client.IntegerRequest{N: 1, Min: 1, Max: 10}, client.WithCacheSize(0)); err == nil {
		t.Error("exp error for a zero cache size")
	}

	time.Sleep(10 * time.Millisecond)
	if got := inv.count(); got != 0 {
		t.Errorf("exp no requests from rejected caches; got %d", got)
	}
}
