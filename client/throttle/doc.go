// Package throttle paces outbound calls to a service that publishes an
// advisory delay between requests, with an optional local token-bucket
// ceiling from [golang.org/x/time/rate].
//
// # Usage
//
// Create a [Pacer], ask it how long to wait, wait, send, then record the
// response and the delay the server asked for:
//
//	p, err := throttle.NewPacer(time.Second,
//		throttle.WithCeiling(10, 5), // requests per second, burst capacity
//		throttle.WithLogFn(func() *slog.Logger { return slog.Default() }),
//	)
//	if err := p.Wait(ctx, p.Pending()); err != nil { ... }
//	// ... send the request ...
//	p.Mark()
//	p.SetAdvisory(&serverDelay)
//
// Waiting blocks until the delay has elapsed, a ceiling token becomes
// available, or ctx is cancelled.
package throttle
