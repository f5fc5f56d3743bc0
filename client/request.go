package client

import (
	"fmt"
	"math"
)

// requestConfig is implemented by the per-primitive request configurations.
type requestConfig interface {
	method() string
	params() map[string]any
}

// extraChecker is implemented by configurations with cross-field constraints
// the validator tags cannot express.
type extraChecker interface {
	checkExtra() error
}

// build validates cfg once and turns it into a keyed request.
func (c *Client) build(cfg requestConfig) (*Request, error) {
	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("validating %s request: %w", cfg.method(), err)
	}
	if ec, ok := cfg.(extraChecker); ok {
		if err := ec.checkExtra(); err != nil {
			return nil, fmt.Errorf("validating %s request: %w", cfg.method(), err)
		}
	}

	p := cfg.params()
	p[paramAPIKey] = c.apiKey

	return &Request{Method: cfg.method(), Params: p}, nil
}

// IntegerRequest asks for N integers in [Min, Max].
// Unique draws without replacement.
type IntegerRequest struct {
	N      int  `json:"n" validate:"min=1,max=10000"`
	Min    int  `json:"min" validate:"min=-1000000000,max=1000000000"`
	Max    int  `json:"max" validate:"min=-1000000000,max=1000000000,gtefield=Min"`
	Unique bool `json:"unique"`
}

func (r IntegerRequest) method() string { return MethodGenerateIntegers }

func (r IntegerRequest) params() map[string]any {
	return map[string]any{
		"n":           r.N,
		"min":         r.Min,
		"max":         r.Max,
		"replacement": !r.Unique,
		"base":        10,
	}
}

func (r IntegerRequest) checkExtra() error {
	if r.Unique && r.N > r.Max-r.Min+1 {
		return FieldErrors{{Field: "n", Err: fmt.Sprintf("n must not exceed the range size %d for unique draws", r.Max-r.Min+1)}}
	}
	return nil
}

// bits estimates the cost of one result set.
func (r IntegerRequest) bits() int {
	return ceilBits(math.Log2(float64(r.Max-r.Min+1)) * float64(r.N))
}

// IntegerSequenceRequest asks for N sequences of Length integers in [Min, Max].
// Unique makes the values within each sequence distinct.
type IntegerSequenceRequest struct {
	N      int  `json:"n" validate:"min=1,max=1000"`
	Length int  `json:"length" validate:"min=1,max=10000"`
	Min    int  `json:"min" validate:"min=-1000000000,max=1000000000"`
	Max    int  `json:"max" validate:"min=-1000000000,max=1000000000,gtefield=Min"`
	Unique bool `json:"unique"`
}

func (r IntegerSequenceRequest) method() string { return MethodGenerateIntegerSequences }

func (r IntegerSequenceRequest) params() map[string]any {
	return map[string]any{
		"n":           r.N,
		"length":      r.Length,
		"min":         r.Min,
		"max":         r.Max,
		"replacement": !r.Unique,
		"base":        10,
	}
}

func (r IntegerSequenceRequest) checkExtra() error {
	var fields FieldErrors
	if r.N*r.Length > 10000 {
		fields = append(fields, FieldError{Field: "length", Err: "n * length must not exceed 10000"})
	}
	if r.Unique && r.Length > r.Max-r.Min+1 {
		fields = append(fields, FieldError{Field: "length", Err: fmt.Sprintf("length must not exceed the range size %d for unique sequences", r.Max-r.Min+1)})
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

func (r IntegerSequenceRequest) bits() int {
	return ceilBits(math.Log2(float64(r.Max-r.Min+1)) * float64(r.Length) * float64(r.N))
}

// DecimalFractionRequest asks for N decimal fractions in [0, 1) with
// DecimalPlaces places.
type DecimalFractionRequest struct {
	N             int  `json:"n" validate:"min=1,max=10000"`
	DecimalPlaces int  `json:"decimalPlaces" validate:"min=1,max=14"`
	Unique        bool `json:"unique"`
}

func (r DecimalFractionRequest) method() string { return MethodGenerateDecimalFractions }

func (r DecimalFractionRequest) params() map[string]any {
	return map[string]any{
		"n":             r.N,
		"decimalPlaces": r.DecimalPlaces,
		"replacement":   !r.Unique,
	}
}

func (r DecimalFractionRequest) bits() int {
	return ceilBits(math.Log2(10) * float64(r.DecimalPlaces) * float64(r.N))
}

// GaussianRequest asks for N values from a normal distribution.
type GaussianRequest struct {
	N                 int     `json:"n" validate:"min=1,max=10000"`
	Mean              float64 `json:"mean" validate:"min=-1000000,max=1000000"`
	StandardDeviation float64 `json:"standardDeviation" validate:"min=-1000000,max=1000000"`
	SignificantDigits int     `json:"significantDigits" validate:"min=2,max=14"`
}

func (r GaussianRequest) method() string { return MethodGenerateGaussians }

func (r GaussianRequest) params() map[string]any {
	return map[string]any{
		"n":                 r.N,
		"mean":              r.Mean,
		"standardDeviation": r.StandardDeviation,
		"significantDigits": r.SignificantDigits,
	}
}

func (r GaussianRequest) bits() int {
	return ceilBits(math.Log2(10) * float64(r.SignificantDigits) * float64(r.N))
}

// StringRequest asks for N strings of Length runes drawn from Characters.
type StringRequest struct {
	N          int    `json:"n" validate:"min=1,max=10000"`
	Length     int    `json:"length" validate:"min=1,max=32"`
	Characters string `json:"characters" validate:"required,max=128"`
	Unique     bool   `json:"unique"`
}

func (r StringRequest) method() string { return MethodGenerateStrings }

func (r StringRequest) params() map[string]any {
	return map[string]any{
		"n":           r.N,
		"length":      r.Length,
		"characters":  r.Characters,
		"replacement": !r.Unique,
	}
}

func (r StringRequest) bits() int {
	return ceilBits(math.Log2(float64(len([]rune(r.Characters)))) * float64(r.Length) * float64(r.N))
}

// UUIDRequest asks for N version 4 UUIDs.
type UUIDRequest struct {
	N int `json:"n" validate:"min=1,max=1000"`
}

func (r UUIDRequest) method() string { return MethodGenerateUUIDs }

func (r UUIDRequest) params() map[string]any {
	return map[string]any{"n": r.N}
}

// uuidBits is the number of random bits in a version 4 UUID.
const uuidBits = 122

func (r UUIDRequest) bits() int {
	return uuidBits * r.N
}

// Blob encodings.
const (
	BlobBase64 = "base64"
	BlobHex    = "hex"
)

// BlobRequest asks for N blobs of Size bits, encoded as Format
// (base64 when empty).
type BlobRequest struct {
	N      int    `json:"n" validate:"min=1,max=100"`
	Size   int    `json:"size" validate:"min=1,max=1048576"`
	Format string `json:"format" validate:"omitempty,oneof=base64 hex"`
}

func (r BlobRequest) method() string { return MethodGenerateBlobs }

func (r BlobRequest) params() map[string]any {
	format := r.Format
	if format == "" {
		format = BlobBase64
	}
	return map[string]any{
		"n":      r.N,
		"size":   r.Size,
		"format": format,
	}
}

func (r BlobRequest) checkExtra() error {
	var fields FieldErrors
	if r.Size%8 != 0 {
		fields = append(fields, FieldError{Field: "size", Err: "size must be a multiple of 8"})
	}
	if r.N*r.Size > 1048576 {
		fields = append(fields, FieldError{Field: "size", Err: "n * size must not exceed 1048576 bits"})
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

func (r BlobRequest) bits() int {
	return r.Size * r.N
}

func ceilBits(f float64) int {
	return int(math.Ceil(f))
}
