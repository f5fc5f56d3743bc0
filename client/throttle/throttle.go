package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a [Pacer].
type Option func(*Pacer) error

// WithCeiling adds a local token-bucket limit enforced after the advisory
// delay has elapsed.
func WithCeiling(rps, burst int) Option {
	return func(p *Pacer) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		p.cfg = Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithClock replaces time.Now as the Pacer's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pacer) error {
		if now == nil {
			return fmt.Errorf("clock %w", ErrMustNotBeZero)
		}
		p.now = now
		return nil
	}
}

// WithLogFn sets the logger resolver. logFn lazily resolves the logger at
// wait time, making option ordering irrelevant. A nil-returning
// logFn disables logging.
func WithLogFn(logFn func() *slog.Logger) Option {
	return func(p *Pacer) error {
		p.logFn = logFn
		return nil
	}
}

// NewPacer returns a Pacer whose advisory delay starts at, and falls
// back to, fallback.
func NewPacer(fallback time.Duration, opts ...Option) (*Pacer, error) {
	if fallback < 0 {
		return nil, fmt.Errorf("fallback delay[%s] must not be negative", fallback)
	}

	p := &Pacer{
		delay:    fallback,
		fallback: fallback,
		now:      time.Now,
		logFn:    func() *slog.Logger { return nil },
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Pending returns how long the caller still has to wait before the next
// request honours the advisory delay. It is never negative.
func (p *Pacer) Pending() time.Duration {
	wait := p.delay - p.now().Sub(p.last)
	if wait < 0 {
		return 0
	}
	return wait
}

// Advisory returns the advisory delay currently in force.
func (p *Pacer) Advisory() time.Duration {
	return p.delay
}

// SetAdvisory installs the delay the server asked for. A nil delay restores
// the fallback.
func (p *Pacer) SetAdvisory(delay *time.Duration) {
	if delay == nil || *delay < 0 {
		p.delay = p.fallback
		return
	}
	p.delay = *delay
}

// Mark records that a response has just been received.
func (p *Pacer) Mark() {
	p.last = p.now()
}

// Last returns when the most recent response was received.
func (p *Pacer) Last() time.Time {
	return p.last
}

// Wait suspends for d and then for a token of the local ceiling, if any.
// It returns early when ctx ends.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	logger := p.logFn()

	if d > 0 {
		if logger != nil {
			logger.Debug("honouring advisory delay", "wait", d.String(), "advisory", p.delay.String())
		}

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%w during advisory delay: %w", ErrContextEnded, ctx.Err())
		}
	}

	if p.limiter == nil {
		return nil
	}

	var waited time.Duration
	if logger != nil && p.limiter.Tokens() < 1 {
		logger.Info("throttle tokens exhausted", "rate", p.cfg.RPS, "burst", p.cfg.Burst)

		defer func() {
			logger.Info("throttle wait complete", "waited", waited.String(), "rate", p.cfg.RPS, "burst", p.cfg.Burst)
		}()
	}

	start := time.Now()

	err := p.limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		return fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return nil
}
