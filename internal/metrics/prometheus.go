// Package metrics provides Prometheus metrics collection for recall.
// It tracks HTTP traffic, search result sizes, model calls and summarisation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "recall"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1, 2.5, 5, 10, 20, 30, 60, 90, 120,
}

var (
	// HTTPRequests counts requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status_code"},
	)

	// HTTPLatency tracks end-to-end request latency by route.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route"},
	)

	// SearchResults observes how many records each search returned.
	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of records returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
		[]string{"kind", "target"},
	)

	// ModelCalls counts hosted model calls by backend, model and outcome.
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Total hosted language model calls",
		},
		[]string{"backend", "model", "outcome"},
	)

	// ModelLatency tracks hosted model call latency.
	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Hosted language model call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"backend", "model"},
	)

	// SummarizationCalls counts summariser backend calls by outcome.
	SummarizationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarization_calls_total",
			Help:      "Total summarisation backend calls",
		},
		[]string{"backend", "outcome"},
	)

	// ContextTrimmed counts context assembler trim actions by layer.
	ContextTrimmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_trim_actions_total",
			Help:      "Context layers trimmed to fit the budget",
		},
		[]string{"layer"},
	)

	// RateLimited counts requests rejected by the per-client limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)
)
