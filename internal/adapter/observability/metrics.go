package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts requests by route, method, and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// Originality pipeline instrumentation.
	ChecksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "originality_checks_enqueued_total",
			Help: "Total number of originality checks enqueued",
		},
		[]string{"slot"},
	)
	ChecksDeferredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "originality_checks_deferred_total",
			Help: "Uploads accepted with the check deferred because the broker was unavailable",
		},
	)
	ChecksProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "originality_checks_processing",
			Help: "Number of originality checks currently processing",
		},
	)
	ChecksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "originality_checks_completed_total",
			Help: "Total number of originality checks completed",
		},
		[]string{"outcome"},
	)
	OriginalityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "originality_score",
			Help:    "Distribution of originality scores (percentage, 0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	QueueAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "job_queue_available",
			Help: "1 when the job broker is reachable, 0 in degraded mode",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry, once per
// process.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ChecksEnqueuedTotal,
			ChecksDeferredTotal,
			ChecksProcessing,
			ChecksCompletedTotal,
			OriginalityScore,
			QueueAvailable,
		)
	})
}

// EnqueueCheck records an enqueued originality check.
func EnqueueCheck(slot string) { ChecksEnqueuedTotal.WithLabelValues(slot).Inc() }

// DeferCheck records an upload whose check was deferred (degraded mode).
func DeferCheck() { ChecksDeferredTotal.Inc() }

// StartCheck marks a check as processing.
func StartCheck() { ChecksProcessing.Inc() }

// FinishCheck marks a check as done with the given outcome (completed/failed).
func FinishCheck(outcome string) {
	ChecksProcessing.Dec()
	ChecksCompletedTotal.WithLabelValues(outcome).Inc()
}

// AbortCheck unwinds StartCheck when a job ends without an outcome, such as
// a superseded result or an infrastructure error that will be redelivered.
func AbortCheck() { ChecksProcessing.Dec() }

// ObserveOriginalityScore records a completed check's score.
func ObserveOriginalityScore(score float64) { OriginalityScore.Observe(score) }

// SetQueueAvailable flips the broker availability gauge.
func SetQueueAvailable(up bool) {
	if up {
		QueueAvailable.Set(1)
		return
	}
	QueueAvailable.Set(0)
}

// HTTPMetricsMiddleware records request counts and durations per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
