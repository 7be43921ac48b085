// Package telemetry exposes prometheus metrics for the store's hot paths:
// cache tiers, in-flight dedup, remote calls and rate limiting. Everything
// is registered on the default registry and served via /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_cache_reads_total",
		Help: "Cache read outcomes by tier (fresh, stale, miss).",
	}, []string{"outcome"})

	inflightShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagestore_inflight_shared_total",
		Help: "Callers that attached to an already pending or grace-held in-flight call.",
	})

	remoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_remote_calls_total",
		Help: "Remote document API calls by operation and error kind (kind=ok on success).",
	}, []string{"op", "kind"})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_ratelimit_rejections_total",
		Help: "Write attempts rejected by the client-side rate limiter.",
	}, []string{"category", "reason"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestore_http_request_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// ObserveCacheRead records one cache read outcome: "fresh", "stale" or
// "miss".
func ObserveCacheRead(outcome string) {
	cacheReads.WithLabelValues(outcome).Inc()
}

// ObserveInflightShared records a caller deduplicated by the coordinator.
func ObserveInflightShared() {
	inflightShared.Inc()
}

// ObserveRemoteCall records a remote API call outcome.
func ObserveRemoteCall(op, kind string, ok bool) {
	if ok {
		kind = "ok"
	}
	remoteCalls.WithLabelValues(op, kind).Inc()
}

// ObserveRateLimitRejection records a rejected write attempt.
func ObserveRateLimitRejection(category, reason string) {
	rateLimitRejections.WithLabelValues(category, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware measures request latency and status for every handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
