package client_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/adamwoolhether/randrpc/client"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestHTTPInvoker_Envelope(t *testing.T) {
	expectedUA := "randrpc-test/1.0"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("exp POST; got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("exp json content type; got %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != expectedUA {
			t.Errorf("expected User-Agent %q, got %q", expectedUA, ua)
		}

		var body struct {
			JSONRPC string         `json:"jsonrpc"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
			ID      string         `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding envelope: %v", err)
		}

		if body.JSONRPC != "2.0" {
			t.Errorf("exp jsonrpc 2.0; got %q", body.JSONRPC)
		}
		if body.Method != client.MethodGenerateIntegers {
			t.Errorf("exp method %s; got %s", client.MethodGenerateIntegers, body.Method)
		}
		if _, err := uuid.Parse(body.ID); err != nil {
			t.Errorf("exp uuid correlation id; got %q", body.ID)
		}

		exp := map[string]any{"apiKey": testKey, "n": 1.0, "min": 1.0, "max": 6.0, "replacement": true, "base": 10.0}
		if diff := cmp.Diff(exp, body.Params); diff != "" {
			t.Errorf("unexpected params (-exp +got):\n%s", diff)
		}

		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"random":{"data":[4]},"bitsUsed":3,"bitsLeft":997,"requestsLeft":99},"id":%q}`, body.ID)
	}))
	defer ts.Close()

	inv, err := client.NewHTTPInvoker(
		client.WithEndpoint(ts.URL),
		client.WithUserAgent(expectedUA),
		client.WithLogger(testLogger),
	)
	if err != nil {
		t.Fatalf("creating invoker: %v", err)
	}

	resp, err := inv.Invoke(t.Context(), integersRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error object: %+v", resp.Error)
	}
	if resp.JSONRPC != "2.0" {
		t.Errorf("exp jsonrpc 2.0; got %q", resp.JSONRPC)
	}
}

func TestHTTPInvoker_ErrorObjectIsNotAFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rpcError(403, "insufficient bits", "[12]"))
	}))
	defer ts.Close()

	inv, err := client.NewHTTPInvoker(client.WithEndpoint(ts.URL))
	if err != nil {
		t.Fatalf("creating invoker: %v", err)
	}

	resp, err := inv.Invoke(t.Context(), integersRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := &client.ErrorObject{Code: 403, Message: "insufficient bits", Data: []byte("[12]")}
	if diff := cmp.Diff(exp, resp.Error); diff != "" {
		t.Errorf("unexpected error object (-exp +got):\n%s", diff)
	}
}

func TestHTTPInvoker_Failures(t *testing.T) {
	testCases := map[string]struct {
		handler http.HandlerFunc
		timeout time.Duration
		expErr  error
		check   func(t *testing.T, err error)
	}{
		"badStatus": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, "maintenance")
			},
			expErr: client.ErrBadResponse,
			check: func(t *testing.T, err error) {
				t.Helper()
				var statusErr *client.UnexpectedStatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("exp *UnexpectedStatusError; got %T", err)
				}
				if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Body != "maintenance" {
					t.Errorf("unexpected status error: %+v", statusErr)
				}
			},
		},
		"errorBodyCapped": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, strings.Repeat("x", 64<<10))
			},
			expErr: client.ErrBadResponse,
			check: func(t *testing.T, err error) {
				t.Helper()
				var statusErr *client.UnexpectedStatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("exp *UnexpectedStatusError; got %T", err)
				}
				if len(statusErr.Body) != 4<<10 {
					t.Errorf("exp body capped at 4KB; got %d bytes", len(statusErr.Body))
				}
			},
		},
		"timeout": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			timeout: 20 * time.Millisecond,
			expErr:  client.ErrSendTimeout,
		},
		"malformedBody": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "{not json")
			},
			expErr: client.ErrProtocol,
		},
		"htmlBody": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html>")
			},
			expErr: client.ErrProtocol,
			check: func(t *testing.T, err error) {
				t.Helper()
				if errors.Is(err, client.ErrSendTimeout) || errors.Is(err, client.ErrBadResponse) {
					t.Errorf("exp only a protocol failure; got %v", err)
				}
			},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()

			opts := []client.Option{client.WithEndpoint(ts.URL), client.WithLogger(testLogger)}
			if tc.timeout > 0 {
				opts = append(opts, client.WithHTTPClient(&http.Client{Timeout: tc.timeout}))
			}

			inv, err := client.NewHTTPInvoker(opts...)
			if err != nil {
				t.Fatalf("creating invoker: %v", err)
			}

			_, err = inv.Invoke(t.Context(), integersRequest())
			if tc.expErr != nil && !errors.Is(err, tc.expErr) {
				t.Errorf("exp err %v; got: %v", tc.expErr, err)
			}
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}
}

func TestHTTPInvoker_WithTransport(t *testing.T) {
	var called bool
	custom := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(generated("[2]", 3, 997, 99, 0))),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})

	inv, err := client.NewHTTPInvoker(client.WithTransport(custom))
	if err != nil {
		t.Fatalf("creating invoker: %v", err)
	}

	if _, err := inv.Invoke(t.Context(), integersRequest()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !called {
		t.Error("expected custom transport to be used")
	}
}

func TestClient_OverHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, generated("[5,2]", 6, 994, 98, 0))
	}))
	defer ts.Close()

	c, err := client.Build(testKey, client.WithEndpoint(ts.URL), client.WithLogger(testLogger))
	if err != nil {
		t.Fatalf("building client: %v", err)
	}

	got, err := c.GenerateIntegers(t.Context(), client.IntegerRequest{N: 2, Min: 1, Max: 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{5, 2}, got); diff != "" {
		t.Errorf("unexpected data (-exp +got):\n%s", diff)
	}
}
