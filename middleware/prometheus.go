package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_gateway_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_gateway_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SessionCacheResults counts session lookups by outcome:
	// hit, miss, stale, error.
	SessionCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_gateway_session_cache_results_total",
			Help: "Session cache lookups by result.",
		},
		[]string{"result"},
	)

	// SessionRefreshes counts refresh-on-expiry attempts by outcome.
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_gateway_session_refreshes_total",
			Help: "Session refresh attempts by result.",
		},
		[]string{"result"},
	)

	// PolicyDecisions counts shape authorizations by table and outcome.
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_gateway_policy_decisions_total",
			Help: "Table policy decisions by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	// UpstreamDuration measures time to response headers from the shape service.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_gateway_upstream_duration_seconds",
			Help:    "Shape service time to response headers by status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// PrometheusMiddleware records request counts and latency per route. The
// route template is used instead of the raw path to bound label cardinality.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
