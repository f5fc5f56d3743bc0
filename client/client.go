package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/randrpc/client/metrics"
	"github.com/adamwoolhether/randrpc/client/throttle"
)

// Client dispatches requests for one credential. It owns the credential's
// shared state: quota counters, the advisory delay, and the daily back-off.
// Every call and every cache built from a Client observe the same state, and
// at most one request per Client is in flight at any time.
type Client struct {
	apiKey          string
	inv             Invoker
	logger          *slog.Logger
	tracer          trace.Tracer
	metrics         *metrics.Recorder
	now             func() time.Time
	blockingTimeout time.Duration
	httpTimeout     time.Duration

	sem chan struct{}

	mu           sync.Mutex
	pacer        *throttle.Pacer
	backoffUntil time.Time
	backoffMsg   string
	bitsLeft     int
	requestsLeft int
	usageAt      time.Time
}

// Build creates a Client for apiKey. Without [WithInvoker] requests are
// posted to [DefaultEndpoint] over HTTP.
func Build(apiKey string, optFns ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key must not be empty")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	c := &Client{
		apiKey:          apiKey,
		logger:          slog.Default(),
		tracer:          noop.NewTracerProvider().Tracer("no-op tracer"),
		metrics:         opts.metrics,
		now:             time.Now,
		blockingTimeout: DefaultBlockingTimeout,
		httpTimeout:     DefaultHTTPTimeout,
		sem:             make(chan struct{}, 1),
		bitsLeft:        unknownQuota,
		requestsLeft:    unknownQuota,
	}

	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.tracer != nil {
		c.tracer = opts.tracer
	}
	if opts.now != nil {
		c.now = opts.now
	}
	if opts.blockingTimeout != nil {
		c.blockingTimeout = *opts.blockingTimeout
	}
	if opts.httpTimeout != nil {
		c.httpTimeout = *opts.httpTimeout
	}

	if opts.invoker != nil {
		c.inv = opts.invoker
	} else {
		c.inv = newHTTPInvoker(&opts)
	}

	pacerOpts := []throttle.Option{
		throttle.WithClock(c.now),
		throttle.WithLogFn(func() *slog.Logger { return c.logger }),
	}
	if opts.throttle != nil {
		pacerOpts = append(pacerOpts, throttle.WithCeiling(opts.throttle.RPS, opts.throttle.Burst))
	}
	pacer, err := throttle.NewPacer(DefaultAdvisoryDelay, pacerOpts...)
	if err != nil {
		return nil, fmt.Errorf("configuring throttle: %w", err)
	}
	c.pacer = pacer

	return c, nil
}

// APIKey returns the credential the Client dispatches for.
func (c *Client) APIKey() string {
	return c.apiKey
}

// Dispatch sends req after honouring the daily back-off and the advisory
// delay, and classifies any error object in the response. It never retries.
func (c *Client) Dispatch(ctx context.Context, req *Request) (resp *Response, err error) {
	ctx, span := c.tracer.Start(ctx, "randrpc.dispatch", trace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.Dispatch(req.Method, outcome(err))
	}()

	start := time.Now()
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.Lock()
	if err := c.checkBackoff(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	wait := c.pacer.Pending()
	c.mu.Unlock()

	// The blocking timeout covers the wait for the in-flight slot and the
	// pacing delay together.
	if c.blockingTimeout > 0 {
		if budget := c.blockingTimeout - time.Since(start); wait > budget {
			return nil, fmt.Errorf("%w: advisory delay of %s exceeds remaining %s of blocking timeout %s", ErrSendTimeout, wait, max(budget, 0), c.blockingTimeout)
		}
	}

	if err := c.pacer.Wait(ctx, wait); err != nil {
		return nil, fmt.Errorf("pacing %s: %w", req.Method, err)
	}

	ictx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	resp, err = c.inv.Invoke(ictx, req)
	cancel()
	if err != nil {
		if isTimeout(err) && !errors.Is(err, ErrSendTimeout) {
			err = fmt.Errorf("%w: %s: %w", ErrSendTimeout, req.Method, err)
		}
		if errors.Is(err, ErrProtocol) {
			c.mu.Lock()
			c.pacer.Mark()
			c.mu.Unlock()
		}
		c.logger.Warn("dispatch failed", "method", req.Method, "error", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pacer.Mark()

	if resp.Error != nil {
		return nil, c.classify(resp.Error)
	}

	c.refresh(req.Method, resp)

	return resp, nil
}

// acquire takes the credential's single in-flight slot, waiting at most
// the blocking timeout.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	release := func() { <-c.sem }

	select {
	case c.sem <- struct{}{}:
		return release, nil
	default:
	}

	var timeout <-chan time.Time
	if c.blockingTimeout > 0 {
		timer := time.NewTimer(c.blockingTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c.sem <- struct{}{}:
		return release, nil
	case <-timeout:
		return nil, fmt.Errorf("%w: in-flight request did not complete within blocking timeout of %s", ErrSendTimeout, c.blockingTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for in-flight request: %w", ctx.Err())
	}
}

// checkBackoff fails while the daily back-off is in force and clears it once
// the deadline has passed. c.mu must be held.
func (c *Client) checkBackoff() error {
	if c.backoffUntil.IsZero() {
		return nil
	}

	if c.now().Before(c.backoffUntil) {
		return &RequestsExhaustedError{
			Message:      c.backoffMsg,
			RequestsLeft: max(c.requestsLeft, 0),
			Until:        c.backoffUntil,
		}
	}

	c.logger.Info("daily back-off expired", "until", c.backoffUntil)
	c.backoffUntil = time.Time{}
	c.backoffMsg = ""

	return nil
}

// classify turns an error object into a typed error, updating the shared
// state for the quota codes. c.mu must be held.
func (c *Client) classify(e *ErrorObject) error {
	switch e.Code {
	case codeKeyNotRunning:
		c.logger.Error("api key not running", "code", e.Code, "message", e.Message)
		return &ServerError{Code: e.Code, Message: e.Message, Err: ErrKeyNotRunning}

	case codeRequestsExceeded:
		until := nextUTCMidnight(c.now())
		c.backoffUntil = until
		c.backoffMsg = fmt.Sprintf("error %d: %s", e.Code, e.Message)
		if n, ok := e.lastNumber(); ok {
			c.requestsLeft = n
		}
		c.metrics.Quota(c.bitsLeft, c.requestsLeft)
		c.logger.Warn("daily request quota exhausted, backing off", "until", until, "message", e.Message)

		return &RequestsExhaustedError{
			Message:      c.backoffMsg,
			RequestsLeft: max(c.requestsLeft, 0),
			Until:        until,
		}

	case codeBitsExceeded:
		bitsLeft := 0
		if n, ok := e.lastNumber(); ok {
			bitsLeft = n
			c.bitsLeft = n
		}
		c.metrics.Quota(c.bitsLeft, c.requestsLeft)
		c.logger.Warn("insufficient bits", "bits_left", bitsLeft, "message", e.Message)

		return &BitsExhaustedError{
			Message:  fmt.Sprintf("error %d: %s", e.Code, e.Message),
			BitsLeft: bitsLeft,
		}
	}

	if _, ok := serverCodes[e.Code]; ok {
		return &ServerError{Code: e.Code, Message: e.Message, Err: ErrServer}
	}

	return &ServerError{Code: e.Code, Message: e.Message, Err: ErrProtocol}
}

// refresh updates quota counters and the advisory delay after a
// successful response. c.mu must be held.
func (c *Client) refresh(method string, resp *Response) {
	if _, ok := quotaIndependent[method]; ok {
		c.pacer.SetAdvisory(nil)
		return
	}

	var u usage
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &u); err != nil {
			c.logger.Warn("unable to read quota from result", "method", method, "error", err)
		}
	}

	if u.BitsLeft != nil {
		c.bitsLeft = *u.BitsLeft
	}
	if u.RequestsLeft != nil {
		c.requestsLeft = *u.RequestsLeft
	}
	c.usageAt = c.now()

	var delay *time.Duration
	if u.AdvisoryDelay != nil {
		d := time.Duration(*u.AdvisoryDelay) * time.Millisecond
		delay = &d
	}
	c.pacer.SetAdvisory(delay)

	c.metrics.Quota(c.bitsLeft, c.requestsLeft)
}

// AdvisoryDelay returns the pacing interval currently in force.
func (c *Client) AdvisoryDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pacer.Advisory()
}

// BackoffUntil returns the end of the daily back-off, if one is installed.
func (c *Client) BackoffUntil() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoffUntil, !c.backoffUntil.IsZero()
}

// RequestsLeft returns the remaining request allowance, fetching it with
// getUsage when it is unknown or more than an hour old.
func (c *Client) RequestsLeft(ctx context.Context) (int, error) {
	if err := c.ensureUsage(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsLeft, nil
}

// BitsLeft returns the remaining bit allowance, fetching it with getUsage
// when it is unknown or more than an hour old.
func (c *Client) BitsLeft(ctx context.Context) (int, error) {
	if err := c.ensureUsage(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitsLeft, nil
}

func (c *Client) ensureUsage(ctx context.Context) error {
	c.mu.Lock()
	stale := c.bitsLeft < 0 || c.requestsLeft < 0 || c.now().Sub(c.usageAt) > usageRefresh
	c.mu.Unlock()

	if !stale {
		return nil
	}

	if _, err := c.GetUsage(ctx); err != nil {
		return fmt.Errorf("refreshing usage: %w", err)
	}

	return nil
}

// nextUTCMidnight returns the start of the UTC day after t.
func nextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// outcome maps a dispatch error to its metrics label.
func outcome(err error) string {
	var (
		rpcErr    *ServerError
		statusErr *UnexpectedStatusError
	)

	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrSendTimeout):
		return metrics.OutcomeSendTimeout
	case errors.As(err, &statusErr):
		return metrics.OutcomeBadResponse
	case errors.Is(err, ErrRequestsExhausted):
		return metrics.OutcomeRequestsQuota
	case errors.Is(err, ErrBitsExhausted):
		return metrics.OutcomeBitsQuota
	case errors.As(err, &rpcErr):
		switch {
		case errors.Is(rpcErr, ErrKeyNotRunning):
			return metrics.OutcomeKeyNotRunning
		case errors.Is(rpcErr, ErrServer):
			return metrics.OutcomeServerError
		default:
			return metrics.OutcomeProtocolError
		}
	case errors.Is(err, ErrProtocol):
		return metrics.OutcomeProtocolError
	default:
		return metrics.OutcomeTransportError
	}
}
