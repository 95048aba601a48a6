package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "molttok_http_requests_total",
		Help: "HTTP requests by route pattern, method and status code",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "molttok_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "molttok_rate_limit_decisions_total",
		Help: "Rate limiter decisions by policy and outcome",
	}, []string{"policy", "outcome"})

	FeedPageSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "molttok_feed_page_size",
		Help:    "Items returned per feed page",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	}, []string{"sort"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "molttok_side_effect_failures_total",
		Help: "Best-effort side effects that failed and were swallowed",
	}, []string{"kind"})
)
