// Package rpctest provides an in-process fake of the quota-metered
// JSON-RPC random-number service for tests.
package rpctest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Error codes the fake service answers with.
const (
	CodeParseError       = -32700
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeKeyNotRunning    = 401
	CodeRequestsExceeded = 402
	CodeBitsExceeded     = 403
	CodeInternal         = 32000
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    []any  `json:"data,omitempty"`
}

// Call is one request as received by the fake.
type Call struct {
	Method string
	Params map[string]any
	ID     any
}

// Result is what a [Handler] produces for a successful call: the result
// object and the number of bits it consumed.
type Result struct {
	Fields map[string]any
	Bits   int
}

// Handler serves one JSON-RPC method.
type Handler func(ctx context.Context, params map[string]any) (Result, *Error)

// Middleware wraps a Handler.
type Middleware func(method string, next Handler) Handler

// Server is a fake service listening on a local httptest server.
type Server struct {
	*httptest.Server

	logger   *slog.Logger
	tracer   trace.Tracer
	handlers map[string]Handler
	mw       []Middleware

	mu           sync.Mutex
	rng          *rand.Rand
	running      bool
	bitsLeft     int
	requestsLeft int
	advisoryMS   *int
	calls        []Call
}

// NewServer starts a fake service. Close it when done.
func NewServer(optFns ...Option) *Server {
	opts := options{
		bits:     250000,
		requests: 1000,
		seed:     1,
	}
	for _, opt := range optFns {
		opt(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.tracer == nil {
		opts.tracer = noop.NewTracerProvider().Tracer("no-op tracer")
	}

	s := &Server{
		logger:       opts.logger,
		tracer:       opts.tracer,
		mw:           opts.mw,
		rng:          rand.New(rand.NewPCG(opts.seed, opts.seed)),
		running:      true,
		bitsLeft:     opts.bits,
		requestsLeft: opts.requests,
		advisoryMS:   opts.advisoryMS,
	}
	s.handlers = s.routes()
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))

	return s
}

// Calls returns every request received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Methods returns the method names of every request received so far.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	methods := make([]string, len(s.calls))
	for i, c := range s.calls {
		methods[i] = c.Method
	}
	return methods
}

// SetBits replaces the remaining bit allowance.
func (s *Server) SetBits(bits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitsLeft = bits
}

// SetRequests replaces the remaining request allowance.
func (s *Server) SetRequests(requests int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsLeft = requests
}

// SetRunning starts or stops the credential.
func (s *Server) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// Usage returns the remaining bits and requests.
func (s *Server) Usage() (bits, requests int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitsLeft, s.requestsLeft
}

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      any            `json:"id"`
}

type response struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *Error         `json:"error,omitempty"`
	ID      any            `json:"id"`
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respond(w, response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "Parse error"}})
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "rpctest.handler")
	span.SetAttributes(attribute.String("rpc.method", req.Method))
	defer span.End()

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params, ID: req.ID})
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", ID: req.ID}

	h, ok := s.handlers[req.Method]
	if !ok {
		resp.Error = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
		s.respond(w, resp)
		return
	}

	h = s.wrap(req.Method, h)

	result, rpcErr := h(ctx, req.Params)
	if rpcErr != nil {
		s.logger.Info("rpctest", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
		resp.Error = rpcErr
	} else {
		resp.Result = result.Fields
	}

	s.respond(w, resp)
}

// wrap applies the quota metering and recovery layers plus any user
// middleware, in order given.
func (s *Server) wrap(method string, h Handler) Handler {
	h = s.meter(method, h)
	for _, mwFn := range slices.Backward(s.mw) {
		if mwFn != nil {
			h = mwFn(method, h)
		}
	}
	return s.recoverPanics(h)
}

func (s *Server) recoverPanics(next Handler) Handler {
	return func(ctx context.Context, params map[string]any) (res Result, rpcErr *Error) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("rpctest", "panic", rec, "trace", string(debug.Stack()))
				res, rpcErr = Result{}, &Error{Code: CodeInternal, Message: fmt.Sprintf("Internal error: %v", rec)}
			}
		}()

		return next(ctx, params)
	}
}

// meter enforces the credential status and the allowances around a
// handler, and adds the usage fields to quota-dependent results.
func (s *Server) meter(method string, next Handler) Handler {
	return func(ctx context.Context, params map[string]any) (Result, *Error) {
		if _, ok := unmetered[method]; ok {
			return next(ctx, params)
		}

		s.mu.Lock()
		running, requestsLeft := s.running, s.requestsLeft
		s.mu.Unlock()

		if !running {
			return Result{}, &Error{Code: CodeKeyNotRunning, Message: "The API key you specified is not running"}
		}
		if requestsLeft <= 0 && method != methodGetUsage {
			return Result{}, &Error{Code: CodeRequestsExceeded, Message: "The API key you specified has exceeded its daily request allowance", Data: []any{0}}
		}

		res, rpcErr := next(ctx, params)
		if rpcErr != nil {
			return res, rpcErr
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if method == methodGetUsage {
			res.Fields["bitsLeft"] = s.bitsLeft
			res.Fields["requestsLeft"] = s.requestsLeft
			return res, nil
		}

		if res.Bits > s.bitsLeft {
			return Result{}, &Error{
				Code:    CodeBitsExceeded,
				Message: fmt.Sprintf("The API key you specified has insufficient bits (%d) for this request (%d)", s.bitsLeft, res.Bits),
				Data:    []any{res.Bits, s.bitsLeft},
			}
		}

		s.bitsLeft -= res.Bits
		s.requestsLeft--

		res.Fields["bitsUsed"] = res.Bits
		res.Fields["bitsLeft"] = s.bitsLeft
		res.Fields["requestsLeft"] = s.requestsLeft
		if s.advisoryMS != nil {
			res.Fields["advisoryDelay"] = *s.advisoryMS
		}

		return res, nil
	}
}

func (s *Server) respond(w http.ResponseWriter, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("rpctest", "marshal response", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("rpctest", "write response", err)
	}
}
