// Package metrics exposes Prometheus instrumentation for dispatches,
// quota counters and cache levels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeSendTimeout    = "send_timeout"
	OutcomeBadResponse    = "bad_response"
	OutcomeKeyNotRunning  = "key_not_running"
	OutcomeRequestsQuota  = "requests_exhausted"
	OutcomeBitsQuota      = "bits_exhausted"
	OutcomeServerError    = "server_error"
	OutcomeProtocolError  = "protocol_error"
	OutcomeTransportError = "transport_error"
)

// Recorder collects metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	dispatches   *prometheus.CounterVec
	bitsLeft     prometheus.Gauge
	requestsLeft prometheus.Gauge
	cacheSets    *prometheus.GaugeVec
	cacheBits    *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// to expose them on the default registry.
func New(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randrpc_dispatches_total",
				Help: "Total number of dispatched JSON-RPC calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		bitsLeft: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "randrpc_bits_left",
				Help: "Remaining bit allowance last reported by the service",
			},
		),
		requestsLeft: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "randrpc_requests_left",
				Help: "Remaining request allowance last reported by the service",
			},
		),
		cacheSets: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "randrpc_cache_result_sets",
				Help: "Number of ready result sets held by a cache",
			},
			[]string{"method"},
		),
		cacheBits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "randrpc_cache_bits_used_total",
				Help: "Bits consumed by cache population",
			},
			[]string{"method"},
		),
	}
}

// Dispatch counts one dispatch of method ending in outcome.
func (r *Recorder) Dispatch(method, outcome string) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(method, outcome).Inc()
}

// Quota records the allowance counters. Negative values mean unknown and are skipped.
func (r *Recorder) Quota(bitsLeft, requestsLeft int) {
	if r == nil {
		return
	}
	if bitsLeft >= 0 {
		r.bitsLeft.Set(float64(bitsLeft))
	}
	if requestsLeft >= 0 {
		r.requestsLeft.Set(float64(requestsLeft))
	}
}

// CacheLevel records how many result sets a cache for method currently holds.
func (r *Recorder) CacheLevel(method string, sets int) {
	if r == nil {
		return
	}
	r.cacheSets.WithLabelValues(method).Set(float64(sets))
}

// CacheBits adds bits consumed by a cache for method.
func (r *Recorder) CacheBits(method string, bits int) {
	if r == nil || bits <= 0 {
		return
	}
	r.cacheBits.WithLabelValues(method).Add(float64(bits))
}
