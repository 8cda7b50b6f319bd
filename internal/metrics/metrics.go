// Package metrics holds the prometheus collectors shared by the token core,
// the platform client and the HTTP layer. Collectors register on the
// default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

const namespace = "cshub"

var (
	AgencyTokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agency_token_requests_total",
			Help:      "Agency token lookups by outcome (valid, refreshed, error).",
		},
		[]string{"result"},
	)

	LocationTokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_token_requests_total",
			Help:      "Location token lookups by outcome (cached, minted, error).",
		},
		[]string{"result"},
	)

	LocationTokenCacheWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_token_cache_write_failures_total",
			Help:      "Minted location tokens that could not be persisted.",
		},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to the platform API by operation and status.",
		},
		[]string{"op", "status"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Platform circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	ResolveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_attempts_total",
			Help:      "Location to company resolutions by outcome.",
		},
		[]string{"result"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_sync_total",
			Help:      "Location syncs by outcome (ok, partial, error).",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// StateValue maps a breaker state onto the gauge value.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
