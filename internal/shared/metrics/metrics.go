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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Relay metrics
	relayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of requests forwarded through the relay",
		},
		[]string{"method", "status"},
	)

	relayUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Upstream round-trip duration for relayed requests",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// EHR connector metrics
	ehrOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehr_operations_total",
			Help: "Total number of EHR connector operations",
		},
		[]string{"backend", "operation", "status"},
	)

	ehrOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ehr_operation_duration_seconds",
			Help:    "EHR connector operation duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	// Workflow metrics
	consultationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultations_recorded_total",
			Help: "Total number of consultations pushed to the EHR",
		},
		[]string{"backend"},
	)

	diagnosesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnoses_recorded_total",
			Help: "Total number of diagnosis observations recorded",
		},
		[]string{"backend", "outcome"},
	)

	notesStructured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_structured_total",
			Help: "Total number of transcripts structured by the extract client",
		},
		[]string{"model", "status"},
	)

	// Session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of currently active sessions",
		},
	)

	// Audit metrics
	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordRelayRequest records a forwarded relay request
func RecordRelayRequest(method string, status int, duration time.Duration) {
	relayRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	relayUpstreamDuration.Observe(duration.Seconds())
}

// RecordEHROperation records a connector operation outcome
func RecordEHROperation(backend, operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ehrOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	ehrOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordConsultation records a completed consultation workflow
func RecordConsultation(backend string) {
	consultationsRecorded.WithLabelValues(backend).Inc()
}

// RecordDiagnosis records a diagnosis attachment outcome (recorded, non_coded, skipped)
func RecordDiagnosis(backend, outcome string) {
	diagnosesRecorded.WithLabelValues(backend, outcome).Inc()
}

// RecordNoteStructured records an extract client call
func RecordNoteStructured(model string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	notesStructured.WithLabelValues(model, status).Inc()
}

// SetActiveSessions updates the active session gauge
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}
