package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/randrpc/client/metrics"
	"github.com/adamwoolhether/randrpc/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	blockingTimeout *time.Duration
	httpTimeout     *time.Duration
	endpoint        string
	client          *http.Client
	rt              http.RoundTripper
	invoker         Invoker
	userAgent       string
	throttle        *throttle.Config
	logger          *slog.Logger
	tracer          trace.Tracer
	metrics         *metrics.Recorder
	now             func() time.Time
}

// WithBlockingTimeout sets the longest a dispatch may wait, for the advisory
// delay and for an in-flight request on the same credential, before failing
// with [ErrSendTimeout]. Zero means wait indefinitely.
func WithBlockingTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("blocking timeout must not be negative")
		}
		c.blockingTimeout = &d
		return nil
	}
}

// WithHTTPTimeout bounds each round trip to the service.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d <= 0 {
			return fmt.Errorf("http timeout[%s] %w", d, throttle.ErrMustNotBeZero)
		}
		c.httpTimeout = &d
		return nil
	}
}

// WithEndpoint replaces [DefaultEndpoint].
func WithEndpoint(endpoint string) Option {
	return func(c *options) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("parsing endpoint: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint %q must be absolute", endpoint)
		}
		c.endpoint = endpoint
		return nil
	}
}

// WithHTTPClient replaces the [http.Client] used by the default HTTP transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithInvoker replaces the HTTP transport altogether. The HTTP-specific
// options are ignored when an Invoker is given.
func WithInvoker(inv Invoker) Option {
	return func(c *options) error {
		if inv == nil {
			return errors.New("invoker must not be nil")
		}
		c.invoker = inv
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle adds a local token-bucket ceiling with the given requests per
// second and burst capacity, enforced on top of the server's advisory delay.
func WithThrottle(rps, burst int) Option {
	return func(c *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		c.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		c.logger = logger
		return nil
	}
}

// WithTracer wraps every dispatch in a span from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		c.tracer = tracer
		return nil
	}
}

// WithMetrics records dispatch outcomes and quota counters on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *options) error {
		c.metrics = rec
		return nil
	}
}

// WithClock replaces time.Now. It exists for tests.
func WithClock(now func() time.Time) Option {
	return func(c *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		c.now = now
		return nil
	}
}

// CacheOption is a functional option for the typed cache constructors.
type CacheOption func(*cacheOpts) error

type cacheOpts struct {
	size   int
	logger *slog.Logger
}

// WithCacheSize sets the number of result sets a cache aims to hold.
// Values below 2 are raised to 2.
func WithCacheSize(size int) CacheOption {
	return func(opts *cacheOpts) error {
		if size <= 0 {
			return fmt.Errorf("cache size[%d] %w", size, throttle.ErrMustNotBeZero)
		}
		opts.size = max(size, minCacheSize)
		return nil
	}
}

// WithCacheLogger overrides the client's logger for one cache.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(opts *cacheOpts) error {
		opts.logger = logger
		return nil
	}
}
