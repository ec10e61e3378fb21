// Package metrics exposes Prometheus collectors for grading batches and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsGraded counts graded submissions by outcome (scored, image_only).
	SubmissionsGraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_submissions_graded_total",
			Help: "Total number of graded submissions",
		},
		[]string{"outcome"},
	)

	// IntegrityFlags counts integrity rows raised by kind.
	IntegrityFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessor_integrity_flags_total",
			Help: "Total number of integrity flags raised",
		},
		[]string{"kind"},
	)

	// EmbeddingDuration observes the latency of embedding calls.
	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assessor_embedding_duration_seconds",
			Help:    "Duration of embedding requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// BatchDuration observes the wall time of a full batch run.
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assessor_batch_duration_seconds",
			Help:    "Duration of batch evaluation runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SubmissionsGraded,
			IntegrityFlags,
			EmbeddingDuration,
			BatchDuration,
			requestCounter,
			requestDuration,
		)
	})
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
