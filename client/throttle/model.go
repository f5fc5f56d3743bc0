package throttle

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the local ceiling's
// Requests Per Second and Burst Rate
type Config struct {
	RPS   int
	Burst int
}

// Pacer tracks the server's advisory delay and the time the last
// response arrived, and optionally enforces a local token bucket
// on top of it.
//
// A Pacer is not safe for concurrent use; the owning client
// serializes access to it.
type Pacer struct {
	delay    time.Duration
	fallback time.Duration
	last     time.Time
	now      func() time.Time
	limiter  *rate.Limiter
	cfg      Config
	logFn    func() *slog.Logger
}
