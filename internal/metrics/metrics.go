// Package metrics provides Prometheus instrumentation for the
// adjustment engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts batch runs, partitioned by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpact_runs_total",
		Help: "Total number of adjustment batch runs",
	}, []string{"status"})

	// RunDuration tracks how long a full batch run takes.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corpact_run_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	// AccountsProcessed counts accounts examined, partitioned by result.
	AccountsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpact_accounts_processed_total",
		Help: "Accounts examined per result (adjusted, unaffected, failed)",
	}, []string{"result"})

	// AdjustmentsApplied counts applied adjustments by kind.
	AdjustmentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpact_adjustments_applied_total",
		Help: "Corporate-action adjustments applied",
	}, []string{"kind"})

	// SkippedLookups counts instruments skipped because the market-data
	// provider was unavailable. Lets operators tell "no corporate action
	// today" apart from a data outage.
	SkippedLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpact_skipped_lookups_total",
		Help: "Instrument lookups skipped due to provider unavailability",
	})

	// MalformedRecords counts provider records dropped before matching.
	MalformedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpact_malformed_records_total",
		Help: "Corporate-action records dropped as malformed",
	})

	// RightsPending counts detected rights issues awaiting manual review.
	RightsPending = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corpact_rights_pending_total",
		Help: "Rights issues detected but not computed",
	})

	// LastRunSuccessTimestamp is the unix time of the last completed run.
	LastRunSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "corpact_last_run_success_timestamp_seconds",
		Help: "Unix timestamp of the last fully completed batch run",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "corpact_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpact_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corpact_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
