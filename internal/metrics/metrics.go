// Package metrics provides Prometheus metrics for the mail service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispomail",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

var (
	// SMTPConnectionsTotal counts total SMTP connections
	SMTPConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "connections_total",
			Help:      "Total number of SMTP connections",
		},
	)

	// SMTPConnectionsActive tracks active SMTP connections
	SMTPConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "connections_active",
			Help:      "Number of active SMTP connections",
		},
	)

	// SMTPMessagesReceived counts messages accepted at DATA
	SMTPMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "messages_received_total",
			Help:      "Total number of messages accepted via SMTP",
		},
	)

	// SMTPMessagesRejected counts rejected messages by reason
	SMTPMessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "messages_rejected_total",
			Help:      "Total number of rejected messages by reason",
		},
		[]string{"reason"},
	)

	// SMTPMessagesStored counts per-recipient records written
	SMTPMessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "messages_stored_total",
			Help:      "Total number of per-recipient message records stored",
		},
	)

	// SMTPStoreFailures counts per-recipient write failures during fan-out
	SMTPStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "smtp",
			Name:      "store_failures_total",
			Help:      "Total number of per-recipient storage failures",
		},
	)
)

var (
	// SweepDeletedTotal counts records purged by the retention sweeper
	SweepDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Total number of expired records purged",
		},
	)

	// SweepFailures counts failed sweep ticks
	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispomail",
			Subsystem: "retention",
			Name:      "sweep_failures_total",
			Help:      "Total number of failed retention sweeps",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations for every HTTP request
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// getRoutePattern returns the chi route pattern so path parameters do not
// mint one label value per inbox or id. Falls back to the raw path when no
// pattern matched.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the /metrics endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}
