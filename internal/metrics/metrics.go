// Package metrics exposes Prometheus collectors for the gateway and client.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream and poll outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeTimeout  = "timeout"
	OutcomeNetwork  = "network_error"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

var (
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	upstreamRequestsTotal          *prometheus.CounterVec
	upstreamRequestDurationSeconds *prometheus.HistogramVec
	pollAttemptsTotal              *prometheus.CounterVec
	pollOutcomesTotal              *prometheus.CounterVec
	rateLimitedRequestsTotal       prometheus.Counter
	validationRejectionsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120, 300},
			},
			[]string{"method", "route"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repothread_upstream_requests_total",
				Help: "Total number of calls to the analysis backend, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		upstreamRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repothread_upstream_request_duration_seconds",
				Help:    "Histogram of analysis backend call latencies, labeled by operation.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"operation"},
		)

		pollAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repothread_poll_attempts_total",
				Help: "Total number of job status queries issued by the poller, labeled by operation.",
			},
			[]string{"operation"},
		)

		pollOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repothread_poll_outcomes_total",
				Help: "Total number of finished poll sequences, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		rateLimitedRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "repothread_rate_limited_requests_total",
				Help: "Total number of job creation requests rejected by the rate limiter.",
			},
		)

		validationRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repothread_validation_rejections_total",
				Help: "Total number of requests rejected before any backend call, labeled by operation.",
			},
			[]string{"operation"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one backend call.
func ObserveUpstream(operation, outcome string, duration time.Duration) {
	Init()
	upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePollAttempt counts one status query.
func ObservePollAttempt(operation string) {
	Init()
	pollAttemptsTotal.WithLabelValues(operation).Inc()
}

// ObservePollOutcome counts one finished poll sequence.
func ObservePollOutcome(operation, outcome string) {
	Init()
	pollOutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRateLimited counts one throttled creation request.
func ObserveRateLimited() {
	Init()
	rateLimitedRequestsTotal.Inc()
}

// ObserveValidationRejection counts one request rejected by input validation.
func ObserveValidationRejection(operation string) {
	Init()
	validationRejectionsTotal.WithLabelValues(operation).Inc()
}
