package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSendTimeout is returned when a request could not be sent, or a
	// response was not received, within the configured timeouts.
	ErrSendTimeout = errors.New("send timeout")
	// ErrBadResponse is the sentinel wrapped by [UnexpectedStatusError].
	ErrBadResponse = errors.New("bad response")
	// ErrKeyNotRunning indicates the credential has been stopped or suspended.
	ErrKeyNotRunning = errors.New("api key not running")
	// ErrRequestsExhausted indicates the daily request allowance is used up.
	ErrRequestsExhausted = errors.New("insufficient requests")
	// ErrBitsExhausted indicates the remaining bit allowance cannot cover the request.
	ErrBitsExhausted = errors.New("insufficient bits")
	// ErrServer is wrapped by [ServerError] for codes in the published service list.
	ErrServer = errors.New("server error")
	// ErrProtocol is wrapped by [ServerError] for any other JSON-RPC error.
	ErrProtocol = errors.New("json-rpc error")
	// ErrCacheEmpty is the sentinel wrapped by [CacheEmptyError].
	ErrCacheEmpty = errors.New("cache empty")
)

// UnexpectedStatusError is returned when the HTTP response status code
// is not 2xx.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}

// ServerError carries an error object returned by the service.
// Err is one of [ErrKeyNotRunning], [ErrServer] or [ErrProtocol].
type ServerError struct {
	Code    int
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%v: error %d: %s", e.Err, e.Code, e.Message)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// RequestsExhaustedError is returned when the daily request quota is spent,
// and for every dispatch attempted before Until.
type RequestsExhaustedError struct {
	Message      string
	RequestsLeft int
	Until        time.Time
}

func (e *RequestsExhaustedError) Error() string {
	return fmt.Sprintf("%v: %s (back-off until %s)", ErrRequestsExhausted, e.Message, e.Until.Format(time.RFC3339))
}

func (e *RequestsExhaustedError) Unwrap() error {
	return ErrRequestsExhausted
}

// BitsExhaustedError is returned when the service cannot serve a request
// from the remaining bit allowance. BitsLeft lets callers shrink the request.
type BitsExhaustedError struct {
	Message  string
	BitsLeft int
}

func (e *BitsExhaustedError) Error() string {
	return fmt.Sprintf("%v: %s (bits left: %d)", ErrBitsExhausted, e.Message, e.BitsLeft)
}

func (e *BitsExhaustedError) Unwrap() error {
	return ErrBitsExhausted
}

// CacheEmptyError is returned by [Cache.Get] when no result set is ready.
// Paused reports whether the cache is stopped, in which case no refill will
// happen until [Cache.Resume] is called.
type CacheEmptyError struct {
	Paused bool
}

func (e *CacheEmptyError) Error() string {
	if e.Paused {
		return fmt.Sprintf("%v: cache is paused", ErrCacheEmpty)
	}
	return ErrCacheEmpty.Error()
}

func (e *CacheEmptyError) Unwrap() error {
	return ErrCacheEmpty
}
