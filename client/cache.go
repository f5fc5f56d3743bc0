package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamwoolhether/randrpc/client/metrics"
)

const (
	// defaultCacheSize is the number of result sets a typed cache aims to hold.
	defaultCacheSize = 20
	minCacheSize     = 2

	// pollInterval is how long GetOrWait sleeps between attempts.
	pollInterval = 50 * time.Millisecond
)

// DispatchFunc sends one request. [Client.Dispatch] satisfies it.
type DispatchFunc func(ctx context.Context, req *Request) (*Response, error)

// CacheConfig describes how a [Cache] populates itself.
type CacheConfig struct {
	// Size is the number of result sets the cache aims to hold (>= 2).
	Size int
	// BulkFactor packs that many result sets into one call; 0 requests one
	// result set per call.
	BulkFactor int
	// SingleCount is the number of values in one result set.
	SingleCount int
	// UnitBits estimates the bit cost of one result set, used to shrink a
	// bulk request when the remaining allowance is low.
	UnitBits int
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Cache keeps a stack of ready result sets of the template request and
// refills it in the background.
//
// Once a population attempt fails with anything other than a bulk request
// that could be shrunk, the failure is recorded and returned by every
// subsequent Get. It is not cleared by Resume.
type Cache[T any] struct {
	ctx      context.Context
	dispatch DispatchFunc
	template *Request
	size     int
	bulk     int
	single   int
	unitBits int
	logger   *slog.Logger
	metrics  *metrics.Recorder

	mu           sync.Mutex
	stack        [][]T
	paused       bool
	populating   bool
	err          error
	bitsUsed     int
	requestsUsed int
}

// NewCache builds a Cache and starts populating it. ctx bounds every
// population request for the life of the cache: once it is cancelled the
// next population attempt fails and that failure is recorded like any other,
// so the cache stops refilling for good. The template is copied; in bulk
// mode its "n" parameter is set to cfg.BulkFactor * cfg.SingleCount.
func NewCache[T any](ctx context.Context, dispatch DispatchFunc, template *Request, cfg CacheConfig) (*Cache[T], error) {
	switch {
	case dispatch == nil:
		return nil, errors.New("dispatch must not be nil")
	case template == nil:
		return nil, errors.New("template must not be nil")
	case cfg.Size < minCacheSize:
		return nil, fmt.Errorf("cache size[%d] must be at least %d", cfg.Size, minCacheSize)
	case cfg.SingleCount <= 0:
		return nil, fmt.Errorf("single count[%d] must be greater than zero", cfg.SingleCount)
	case cfg.BulkFactor < 0 || cfg.BulkFactor > cfg.Size:
		return nil, fmt.Errorf("bulk factor[%d] must be within [0, %d]", cfg.BulkFactor, cfg.Size)
	}

	c := &Cache[T]{
		ctx:      ctx,
		dispatch: dispatch,
		template: template.Clone(),
		size:     cfg.Size,
		bulk:     cfg.BulkFactor,
		single:   cfg.SingleCount,
		unitBits: cfg.UnitBits,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		stack:    make([][]T, 0, cfg.Size),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.template.Params == nil {
		c.template.Params = make(map[string]any)
	}
	if c.bulk > 0 {
		c.template.Params[paramN] = c.bulk * c.single
	}

	c.mu.Lock()
	c.triggerLocked()
	c.mu.Unlock()

	return c, nil
}

// Get pops one result set and triggers a background refill. It returns the
// recorded population failure if there is one, or a [CacheEmptyError] when
// nothing is ready.
func (c *Cache[T]) Get() ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	if len(c.stack) == 0 {
		return nil, &CacheEmptyError{Paused: c.paused}
	}

	last := len(c.stack) - 1
	v := c.stack[last]
	c.stack[last] = nil
	c.stack = c.stack[:last]
	c.metrics.CacheLevel(c.template.Method, len(c.stack))

	c.triggerLocked()

	return v, nil
}

// GetOrWait is like Get but waits for population while the cache is empty
// and not paused. An empty paused cache fails immediately.
func (c *Cache[T]) GetOrWait(ctx context.Context) ([]T, error) {
	for {
		v, err := c.Get()

		var empty *CacheEmptyError
		if !errors.As(err, &empty) || empty.Paused {
			return v, err
		}

		c.mu.Lock()
		c.triggerLocked()
		c.mu.Unlock()

		timer := time.NewTimer(pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for cache: %w", ctx.Err())
		}
	}
}

// Stop pauses population. A request already in flight completes and its
// result sets are kept.
func (c *Cache[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume lifts a Stop and starts populating again.
func (c *Cache[T]) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.triggerLocked()
}

// Paused reports whether the cache is stopped.
func (c *Cache[T]) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Err returns the recorded population failure, if any.
func (c *Cache[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CachedValues returns the number of ready result sets.
func (c *Cache[T]) CachedValues() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}

// BitsUsed returns the bits consumed by this cache's requests.
func (c *Cache[T]) BitsUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitsUsed
}

// RequestsUsed returns the number of successful requests this cache has made.
func (c *Cache[T]) RequestsUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsUsed
}

// triggerLocked starts the population loop unless it is already running or
// the cache is paused. c.mu must be held.
func (c *Cache[T]) triggerLocked() {
	if c.populating || c.paused {
		return
	}
	c.populating = true
	go c.populate()
}

func (c *Cache[T]) populate() {
	for c.step() {
	}
}

// batch is the outcome of one population request.
type batch[T any] struct {
	sets [][]T
	bits int
}

// step makes one population attempt and reports whether to continue.
// Returning false always clears the populating flag under c.mu, so a Get
// racing with the exit either sees the flag set or starts a new loop.
func (c *Cache[T]) step() bool {
	c.mu.Lock()
	if !c.roomLocked() {
		c.populating = false
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	if c.bulk == 0 {
		b, err := c.fetch(0)
		return c.record(b, err)
	}

	b, err := c.fetch(c.bulk)

	var bitsErr *BitsExhaustedError
	if errors.As(err, &bitsErr) {
		b, err = c.shrink(bitsErr)
	}

	return c.record(b, err)
}

// roomLocked reports whether another request may be made. In bulk mode a
// full batch must fit. c.mu must be held.
func (c *Cache[T]) roomLocked() bool {
	if c.err != nil || c.paused {
		return false
	}
	if c.bulk > 0 {
		return len(c.stack) <= c.size-c.bulk
	}
	return len(c.stack) < c.size
}

// shrink retries a bulk request with as many result sets as the remaining
// bits allow, then restores the template to the full bulk size. A result set
// estimated to cost no bits always fits, so the full bulk is retried.
func (c *Cache[T]) shrink(bitsErr *BitsExhaustedError) (batch[T], error) {
	units := c.bulk
	if c.unitBits > 0 {
		if bitsErr.BitsLeft < c.unitBits {
			return batch[T]{}, bitsErr
		}
		units = min(bitsErr.BitsLeft/c.unitBits, c.bulk)
	}

	c.logger.Info("shrinking bulk request", "method", c.template.Method, "bits_left", bitsErr.BitsLeft, "units", units, "bulk", c.bulk)

	c.template.Params[paramN] = units * c.single
	defer func() {
		c.template.Params[paramN] = c.bulk * c.single
	}()

	return c.fetch(units)
}

// fetch dispatches the template and splits the data into result sets.
// units is the number of packed result sets, 0 outside bulk mode.
func (c *Cache[T]) fetch(units int) (batch[T], error) {
	resp, err := c.dispatch(c.ctx, c.template)
	if err != nil {
		return batch[T]{}, err
	}

	data, bits, err := decodeData[T](resp)
	if err != nil {
		return batch[T]{}, fmt.Errorf("%s: %w", c.template.Method, err)
	}

	if units == 0 {
		return batch[T]{sets: [][]T{data}, bits: bits}, nil
	}

	if len(data) != units*c.single {
		return batch[T]{}, fmt.Errorf("%s: %w: expected %d values, got %d", c.template.Method, ErrProtocol, units*c.single, len(data))
	}

	sets := make([][]T, 0, units)
	for i := range units {
		sets = append(sets, data[i*c.single:(i+1)*c.single:(i+1)*c.single])
	}

	return batch[T]{sets: sets, bits: bits}, nil
}

// record stores a batch or the failure that ends population.
func (c *Cache[T]) record(b batch[T], err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.err = err
		c.populating = false
		c.logger.Warn("cache population failed", "method", c.template.Method, "error", err)
		return false
	}

	c.requestsUsed++
	c.bitsUsed += b.bits
	c.metrics.CacheBits(c.template.Method, b.bits)

	for _, set := range b.sets {
		if len(c.stack) >= c.size {
			break
		}
		c.stack = append(c.stack, set)
	}
	c.metrics.CacheLevel(c.template.Method, len(c.stack))

	return true
}
