// Package metrics exposes Prometheus instrumentation for the gateway's
// outbound traffic, cache effectiveness and token lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlatformRequests counts outbound platform calls by platform and outcome.
	PlatformRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_platform_requests_total",
		Help: "Outbound platform API requests by platform and outcome",
	}, []string{"platform", "outcome"})

	// PlatformRequestDuration observes outbound call latency per platform.
	PlatformRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_platform_request_duration_seconds",
		Help:    "Outbound platform API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})

	// CacheHits counts response-cache hits per platform.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_response_cache_hits_total",
		Help: "Response cache hits by platform",
	}, []string{"platform"})

	// CacheMisses counts response-cache misses per platform.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_response_cache_misses_total",
		Help: "Response cache misses by platform",
	}, []string{"platform"})

	// RateLimitWait observes how long requests blocked on local admission.
	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_rate_limit_wait_seconds",
		Help:    "Time spent waiting for local rate limit admission",
		Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"platform"})

	// RateLimitPenalties counts provider 429s that penalized a platform.
	RateLimitPenalties = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limit_penalties_total",
		Help: "Provider 429 responses that paused a platform's admission",
	}, []string{"platform"})

	// TokenRefreshes counts refresh-grant attempts by platform and outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_token_refreshes_total",
		Help: "OAuth token refresh attempts by platform and outcome",
	}, []string{"platform", "outcome"})

	// ReportSections counts aggregated report sections by platform and outcome.
	ReportSections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_report_sections_total",
		Help: "Report fan-out sections by platform and outcome",
	}, []string{"platform", "outcome"})
)
