package rpctest

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a [Server].
type Option func(*options)

type options struct {
	bits       int
	requests   int
	advisoryMS *int
	seed       uint64
	logger     *slog.Logger
	tracer     trace.Tracer
	mw         []Middleware
}

// WithBits sets the initial bit allowance. The default is 250000.
func WithBits(bits int) Option {
	return func(o *options) {
		o.bits = bits
	}
}

// WithRequests sets the initial request allowance. The default is 1000.
func WithRequests(requests int) Option {
	return func(o *options) {
		o.requests = requests
	}
}

// WithAdvisoryDelay makes quota-dependent results carry advisoryDelay.
// Without it the field is omitted.
func WithAdvisoryDelay(ms int) Option {
	return func(o *options) {
		o.advisoryMS = &ms
	}
}

// WithSeed seeds the generator so results are reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer wraps every call in a span from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMiddleware adds middleware around every method, outside quota
// metering.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.mw = append(o.mw, mw...)
	}
}
