package rpctest

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	methodGetUsage        = "getUsage"
	methodVerifySignature = "verifySignature"
)

// unmetered methods neither consume allowance nor report it.
var unmetered = map[string]struct{}{
	methodVerifySignature: {},
}

func (s *Server) routes() map[string]Handler {
	return map[string]Handler{
		"generateIntegers":         s.generateIntegers,
		"generateIntegerSequences": s.generateIntegerSequences,
		"generateDecimalFractions": s.generateDecimalFractions,
		"generateGaussians":        s.generateGaussians,
		"generateStrings":          s.generateStrings,
		"generateUUIDs":            s.generateUUIDs,
		"generateBlobs":            s.generateBlobs,
		methodGetUsage:             s.getUsage,
		methodVerifySignature:      s.verifySignature,
	}
}

func (s *Server) generateIntegers(_ context.Context, p map[string]any) (Result, *Error) {
	n, lo, hi, rpcErr := countAndRange(p)
	if rpcErr != nil {
		return Result{}, rpcErr
	}

	s.mu.Lock()
	data := s.draw(n, lo, hi, boolParam(p, "replacement", true))
	s.mu.Unlock()

	return random(data, bits(math.Log2(float64(hi-lo+1))*float64(n))), nil
}

func (s *Server) generateIntegerSequences(_ context.Context, p map[string]any) (Result, *Error) {
	n, lo, hi, rpcErr := countAndRange(p)
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	length, rpcErr := intParam(p, "length")
	if rpcErr != nil {
		return Result{}, rpcErr
	}

	replacement := boolParam(p, "replacement", true)

	s.mu.Lock()
	data := make([][]int, n)
	for i := range data {
		data[i] = s.draw(length, lo, hi, replacement)
	}
	s.mu.Unlock()

	return random(data, bits(math.Log2(float64(hi-lo+1))*float64(length*n))), nil
}

func (s *Server) generateDecimalFractions(_ context.Context, p map[string]any) (Result, *Error) {
	n, rpcErr := intParam(p, "n")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	places, rpcErr := intParam(p, "decimalPlaces")
	if rpcErr != nil {
		return Result{}, rpcErr
	}

	scale := math.Pow10(places)

	s.mu.Lock()
	data := make([]float64, n)
	for i := range data {
		data[i] = math.Floor(s.rng.Float64()*scale) / scale
	}
	s.mu.Unlock()

	return random(data, bits(math.Log2(10)*float64(places*n))), nil
}

func (s *Server) generateGaussians(_ context.Context, p map[string]any) (Result, *Error) {
	n, rpcErr := intParam(p, "n")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	digits, rpcErr := intParam(p, "significantDigits")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	mean, _ := p["mean"].(float64)
	sd, _ := p["standardDeviation"].(float64)

	s.mu.Lock()
	data := make([]float64, n)
	for i := range data {
		data[i] = mean + s.rng.NormFloat64()*sd
	}
	s.mu.Unlock()

	return random(data, bits(math.Log2(10)*float64(digits*n))), nil
}

func (s *Server) generateStrings(_ context.Context, p map[string]any) (Result, *Error) {
	n, rpcErr := intParam(p, "n")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	length, rpcErr := intParam(p, "length")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	chars := []rune(stringParam(p, "characters"))
	if len(chars) == 0 {
		return Result{}, invalidParam("characters")
	}

	s.mu.Lock()
	data := make([]string, n)
	for i := range data {
		var sb strings.Builder
		for range length {
			sb.WriteRune(chars[s.rng.IntN(len(chars))])
		}
		data[i] = sb.String()
	}
	s.mu.Unlock()

	return random(data, bits(math.Log2(float64(len(chars)))*float64(length*n))), nil
}

func (s *Server) generateUUIDs(_ context.Context, p map[string]any) (Result, *Error) {
	n, rpcErr := intParam(p, "n")
	if rpcErr != nil {
		return Result{}, rpcErr
	}

	data := make([]string, n)
	for i := range data {
		data[i] = uuid.NewString()
	}

	return random(data, 122*n), nil
}

func (s *Server) generateBlobs(_ context.Context, p map[string]any) (Result, *Error) {
	n, rpcErr := intParam(p, "n")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	size, rpcErr := intParam(p, "size")
	if rpcErr != nil {
		return Result{}, rpcErr
	}
	if size%8 != 0 {
		return Result{}, invalidParam("size")
	}

	format := stringParam(p, "format")

	s.mu.Lock()
	data := make([]string, n)
	for i := range data {
		b := make([]byte, size/8)
		for j := range b {
			b[j] = byte(s.rng.UintN(256))
		}
		if format == "hex" {
			data[i] = hex.EncodeToString(b)
		} else {
			data[i] = base64.StdEncoding.EncodeToString(b)
		}
	}
	s.mu.Unlock()

	return random(data, size*n), nil
}

func (s *Server) getUsage(_ context.Context, _ map[string]any) (Result, *Error) {
	return Result{Fields: map[string]any{
		"status":       "running",
		"creationTime": "2025-01-01 00:00:00Z",
	}}, nil
}

func (s *Server) verifySignature(_ context.Context, p map[string]any) (Result, *Error) {
	if _, ok := p["signature"].(string); !ok {
		return Result{}, invalidParam("signature")
	}
	return Result{Fields: map[string]any{"authenticity": true}}, nil
}

// draw returns n integers in [lo, hi]. s.mu must be held.
func (s *Server) draw(n, lo, hi int, replacement bool) []int {
	out := make([]int, n)
	if replacement {
		for i := range out {
			out[i] = lo + s.rng.IntN(hi-lo+1)
		}
		return out
	}

	for i, v := range s.rng.Perm(hi - lo + 1)[:n] {
		out[i] = lo + v
	}
	return out
}

func random(data any, cost int) Result {
	return Result{
		Fields: map[string]any{
			"random": map[string]any{
				"data":           data,
				"completionTime": time.Now().UTC().Format("2006-01-02 15:04:05Z"),
			},
		},
		Bits: cost,
	}
}

func bits(f float64) int {
	return int(math.Ceil(f))
}

func countAndRange(p map[string]any) (n, lo, hi int, rpcErr *Error) {
	if n, rpcErr = intParam(p, "n"); rpcErr != nil {
		return
	}
	if lo, rpcErr = intParam(p, "min"); rpcErr != nil {
		return
	}
	if hi, rpcErr = intParam(p, "max"); rpcErr != nil {
		return
	}
	if hi < lo {
		rpcErr = invalidParam("max")
		return
	}
	if !boolParam(p, "replacement", true) && n > hi-lo+1 {
		rpcErr = invalidParam("n")
	}
	return
}

func intParam(p map[string]any, name string) (int, *Error) {
	f, ok := p[name].(float64)
	if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, invalidParam(name)
	}
	if name == "n" && f < 1 {
		return 0, invalidParam(name)
	}
	return int(f), nil
}

func boolParam(p map[string]any, name string, def bool) bool {
	b, ok := p[name].(bool)
	if !ok {
		return def
	}
	return b
}

func stringParam(p map[string]any, name string) string {
	s, _ := p[name].(string)
	return s
}

func invalidParam(name string) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid params: %s", name), Data: []any{name}}
}
