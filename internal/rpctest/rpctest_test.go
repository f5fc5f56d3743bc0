package rpctest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/randrpc/internal/rpctest"
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpctest.Error  `json:"error"`
	ID      any             `json:"id"`
}

func post(t *testing.T, s *rpctest.Server, body string) rpcResponse {
	t.Helper()

	resp, err := http.Post(s.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("posting: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exp 200; got %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	return out
}

func TestServer_Errors(t *testing.T) {
	testCases := map[string]struct {
		body    string
		setup   func(s *rpctest.Server)
		expCode int
	}{
		"parseError": {
			body:    "{",
			expCode: rpctest.CodeParseError,
		},
		"methodNotFound": {
			body:    `{"jsonrpc":"2.0","method":"nope","params":{},"id":1}`,
			expCode: rpctest.CodeMethodNotFound,
		},
		"invalidParams": {
			body:    `{"jsonrpc":"2.0","method":"generateIntegers","params":{"n":0,"min":1,"max":6},"id":1}`,
			expCode: rpctest.CodeInvalidParams,
		},
		"keyNotRunning": {
			body:    `{"jsonrpc":"2.0","method":"generateIntegers","params":{"n":1,"min":1,"max":6},"id":1}`,
			setup:   func(s *rpctest.Server) { s.SetRunning(false) },
			expCode: rpctest.CodeKeyNotRunning,
		},
		"requestsExceeded": {
			body:    `{"jsonrpc":"2.0","method":"generateIntegers","params":{"n":1,"min":1,"max":6},"id":1}`,
			setup:   func(s *rpctest.Server) { s.SetRequests(0) },
			expCode: rpctest.CodeRequestsExceeded,
		},
		"bitsExceeded": {
			body:    `{"jsonrpc":"2.0","method":"generateIntegers","params":{"n":10,"min":1,"max":1024},"id":1}`,
			setup:   func(s *rpctest.Server) { s.SetBits(99) },
			expCode: rpctest.CodeBitsExceeded,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			s := rpctest.NewServer()
			defer s.Close()

			if tc.setup != nil {
				tc.setup(s)
			}

			resp := post(t, s, tc.body)
			if resp.Error == nil {
				t.Fatalf("exp error %d; got result %s", tc.expCode, resp.Result)
			}
			if resp.Error.Code != tc.expCode {
				t.Errorf("exp code %d; got %d (%s)", tc.expCode, resp.Error.Code, resp.Error.Message)
			}
		})
	}
}

func TestServer_Metering(t *testing.T) {
	s := rpctest.NewServer(rpctest.WithBits(1000), rpctest.WithRequests(10), rpctest.WithAdvisoryDelay(250))
	defer s.Close()

	resp := post(t, s, `{"jsonrpc":"2.0","method":"generateIntegers","params":{"n":10,"min":1,"max":1024,"replacement":false},"id":"abc"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.ID != "abc" {
		t.Errorf("exp id to be echoed; got %v", resp.ID)
	}

	var result struct {
		Random struct {
			Data []int `json:"data"`
		} `json:"random"`
		BitsUsed      int `json:"bitsUsed"`
		BitsLeft      int `json:"bitsLeft"`
		RequestsLeft  int `json:"requestsLeft"`
		AdvisoryDelay int `json:"advisoryDelay"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}

	if len(result.Random.Data) != 10 {
		t.Fatalf("exp 10 integers; got %v", result.Random.Data)
	}
	seen := make(map[int]bool)
	for _, v := range result.Random.Data {
		if v < 1 || v > 1024 || seen[v] {
			t.Errorf("unexpected value %d in a unique draw", v)
		}
		seen[v] = true
	}

	exp := []int{100, 900, 9, 250}
	got := []int{result.BitsUsed, result.BitsLeft, result.RequestsLeft, result.AdvisoryDelay}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("unexpected usage (-exp +got):\n%s", diff)
	}

	bits, requests := s.Usage()
	if bits != 900 || requests != 9 {
		t.Errorf("exp 900 bits and 9 requests left; got %d and %d", bits, requests)
	}

	if diff := cmp.Diff([]string{"generateIntegers"}, s.Methods()); diff != "" {
		t.Errorf("unexpected calls (-exp +got):\n%s", diff)
	}
}

func TestServer_MiddlewarePanic(t *testing.T) {
	boom := func(method string, next rpctest.Handler) rpctest.Handler {
		return func(ctx context.Context, params map[string]any) (rpctest.Result, *rpctest.Error) {
			if method == "generateUUIDs" {
				panic("boom")
			}
			return next(ctx, params)
		}
	}

	s := rpctest.NewServer(rpctest.WithMiddleware(boom))
	defer s.Close()

	resp := post(t, s, `{"jsonrpc":"2.0","method":"generateUUIDs","params":{"n":1},"id":1}`)
	if resp.Error == nil || resp.Error.Code != rpctest.CodeInternal {
		t.Fatalf("exp internal error; got %+v", resp.Error)
	}

	resp = post(t, s, `{"jsonrpc":"2.0","method":"verifySignature","params":{"signature":"c2ln"},"id":2}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.Result) != `{"authenticity":true}` {
		t.Errorf("unexpected result %s", resp.Result)
	}
}
