package client

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// DefaultEndpoint is the JSON-RPC invoke endpoint of the service.
const DefaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

const (
	// DefaultAdvisoryDelay is used whenever the server omits advisoryDelay.
	DefaultAdvisoryDelay = time.Second
	// DefaultBlockingTimeout is the longest a dispatch waits before sending.
	DefaultBlockingTimeout = 24 * time.Hour
	// DefaultHTTPTimeout bounds a single round trip.
	DefaultHTTPTimeout = 2 * time.Minute

	// usageRefresh is how old tracked quota counters may get before
	// RequestsLeft and BitsLeft fetch them again.
	usageRefresh = time.Hour

	// maxErrBodySize caps the amount of response body read when
	// building an error for an unexpected status code.
	maxErrBodySize = 4 << 10 // 4KB

	// unknownQuota marks bits-left/requests-left before the first response.
	unknownQuota = -1
)

// Method names understood by the service.
const (
	MethodGenerateIntegers         = "generateIntegers"
	MethodGenerateIntegerSequences = "generateIntegerSequences"
	MethodGenerateDecimalFractions = "generateDecimalFractions"
	MethodGenerateGaussians        = "generateGaussians"
	MethodGenerateStrings          = "generateStrings"
	MethodGenerateUUIDs            = "generateUUIDs"
	MethodGenerateBlobs            = "generateBlobs"
	MethodGetUsage                 = "getUsage"

	MethodVerifySignature = "verifySignature"
	MethodGetResult       = "getResult"
	MethodCreateTickets   = "createTickets"
	MethodRevealTickets   = "revealTickets"
	MethodListTickets     = "listTickets"
	MethodGetTicket       = "getTicket"
)

// quotaIndependent lists methods whose results carry no quota counters.
var quotaIndependent = map[string]struct{}{
	MethodVerifySignature: {},
	MethodGetResult:       {},
	MethodCreateTickets:   {},
	MethodRevealTickets:   {},
	MethodListTickets:     {},
	MethodGetTicket:       {},
}

// Error codes with dedicated handling.
const (
	codeKeyNotRunning    = 401
	codeRequestsExceeded = 402
	codeBitsExceeded     = 403
)

// serverCodes is the published list of service error codes. Anything outside
// of it (and outside the specially handled codes) is a protocol error.
var serverCodes = map[int]struct{}{
	100: {}, 101: {},
	200: {}, 201: {}, 202: {}, 203: {}, 204: {},
	300: {}, 301: {}, 302: {}, 303: {}, 304: {}, 305: {}, 306: {}, 307: {},
	400: {}, 404: {}, 405: {},
	420: {}, 421: {}, 422: {}, 423: {}, 424: {}, 425: {}, 426: {},
	500: {}, 32000: {},
}

// paramAPIKey is the parameter name keyed methods carry the credential under.
const paramAPIKey = "apiKey"

// paramN is the repeat-count parameter a cache rescales for bulk requests.
const paramN = "n"

// Request is a fully formed call: a method and its parameter object.
// The JSON-RPC envelope and correlation id are added by the Invoker.
type Request struct {
	Method string
	Params map[string]any
}

// Clone returns a copy of r whose Params can be mutated independently.
func (r *Request) Clone() *Request {
	return &Request{
		Method: r.Method,
		Params: maps.Clone(r.Params),
	}
}

// envelope is the JSON-RPC 2.0 request body.
type envelope struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      string         `json:"id"`
}

// Response is a decoded JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      any             `json:"id"`
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// lastNumber returns the trailing numeric element of the error data, which is
// where the service reports the remaining requests or bits. Data that is not
// an array has no such element.
func (e *ErrorObject) lastNumber() (int, bool) {
	var data []any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return 0, false
	}
	for _, v := range slices.Backward(data) {
		if f, ok := v.(float64); ok {
			return int(f), true
		}
	}
	return 0, false
}

// usage is the quota portion of a generating method's result.
type usage struct {
	BitsUsed      int  `json:"bitsUsed"`
	BitsLeft      *int `json:"bitsLeft"`
	RequestsLeft  *int `json:"requestsLeft"`
	AdvisoryDelay *int `json:"advisoryDelay"`
}

// randomResult is the data-carrying portion of a generating method's result.
type randomResult[T any] struct {
	Random struct {
		Data           []T    `json:"data"`
		CompletionTime string `json:"completionTime"`
	} `json:"random"`
	BitsUsed int `json:"bitsUsed"`
}

// decodeData extracts result.random.data from a response.
func decodeData[T any](resp *Response) ([]T, int, error) {
	var rr randomResult[T]
	if err := json.Unmarshal(resp.Result, &rr); err != nil {
		return nil, 0, fmt.Errorf("decoding random data: %w", err)
	}
	return rr.Random.Data, rr.BitsUsed, nil
}

// Usage is the credential's status and remaining allowance as reported by getUsage.
type Usage struct {
	Status        string    `json:"status"`
	CreationTime  string    `json:"creationTime"`
	BitsLeft      int       `json:"bitsLeft"`
	RequestsLeft  int       `json:"requestsLeft"`
	TotalBits     int       `json:"totalBits"`
	TotalRequests int       `json:"totalRequests"`
	FetchedAt     time.Time `json:"-"`
}
