// Package client provides a paced, quota-aware dispatcher for a JSON-RPC
// random-number service and self-replenishing caches built on top of it.
//
// # Building a Client
//
// Use [Build] to create a [Client] for one credential with functional options:
//
//	c, err := client.Build(apiKey,
//		client.WithBlockingTimeout(time.Minute),
//		client.WithUserAgent("myapp/1.0"),
//	)
//
// A Client serializes its requests, waits out the advisory delay reported by
// the server, and refuses to send after the daily request allowance is spent
// until the next UTC midnight.
//
// # Direct Calls
//
// Each primitive has a validated request type and a Generate method:
//
//	ints, err := c.GenerateIntegers(ctx, client.IntegerRequest{N: 6, Min: 1, Max: 49})
//
// Failures are typed. Use [errors.Is] with [ErrSendTimeout],
// [ErrRequestsExhausted], [ErrBitsExhausted] and friends, or [errors.As] with
// [*BitsExhaustedError] to read the remaining bit allowance.
//
// # Caches
//
// A [Cache] keeps result sets ready and refills itself in the background,
// packing several result sets into one call when draws are independent:
//
//	cache, err := c.IntegerCache(ctx, client.IntegerRequest{N: 5, Min: 1, Max: 10},
//		client.WithCacheSize(10),
//	)
//	set, err := cache.GetOrWait(ctx)
//
// Use [Cache.Stop] and [Cache.Resume] to pause population. Custom requests can
// be cached with [NewCache] and [Client.Dispatch].
package client
