package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
)

// Invoker performs one JSON-RPC round trip: it sends req and returns the
// decoded response, or a transport failure. Error objects returned by the
// service are not failures at this level; they are classified by [Client].
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// InvokerFunc adapts a function to the [Invoker] interface.
type InvokerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPInvoker posts JSON-RPC envelopes to an endpoint over HTTP.
type HTTPInvoker struct {
	c        *http.Client
	endpoint string
	logger   *slog.Logger
}

// NewHTTPInvoker builds an [HTTPInvoker] from the client options that
// concern the transport.
func NewHTTPInvoker(optFns ...Option) (*HTTPInvoker, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	return newHTTPInvoker(&opts), nil
}

func newHTTPInvoker(opts *options) *HTTPInvoker {
	inv := &HTTPInvoker{
		c:        &http.Client{},
		endpoint: DefaultEndpoint,
		logger:   slog.Default(),
	}

	if opts.client != nil {
		inv.c = opts.client
	}
	if opts.endpoint != "" {
		inv.endpoint = opts.endpoint
	}
	if opts.logger != nil {
		inv.logger = opts.logger
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	inv.c.Transport = transport

	return inv
}

// Invoke implements [Invoker]. Timeouts map to [ErrSendTimeout], non-2xx
// statuses to [UnexpectedStatusError] and a 2xx body that is not a JSON-RPC
// response to [ErrProtocol].
func (inv *HTTPInvoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	body := envelope{
		JSONRPC: "2.0",
		Method:  req.Method,
		Params:  req.Params,
		ID:      uuid.NewString(),
	}

	var payload bytes.Buffer
	if err := json.NewEncoder(&payload).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.endpoint, &payload)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := inv.c.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrSendTimeout, req.Method, err)
		}
		return nil, fmt.Errorf("exec http do: %w", err)
	}

	discardBody := true
	defer func() {
		if discardBody {
			if _, err = io.Copy(io.Discard, resp.Body); err != nil {
				inv.logger.Error("failed to discard unused body", "error", err)
			}
		}
		if err = resp.Body.Close(); err != nil {
			inv.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		return nil, &UnexpectedStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			Err:        ErrBadResponse,
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		discardBody = false
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading %s response: %w", ErrSendTimeout, req.Method, err)
		}
		return nil, fmt.Errorf("%w: decoding %s response: %w", ErrProtocol, req.Method, err)
	}

	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
