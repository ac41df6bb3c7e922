package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth metrics.
var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_created_total",
		Help: "Sessions issued.",
	})

	sessionValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_validations_total",
			Help: "Session validations by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsCleaned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_cleaned_total",
		Help: "Expired sessions removed by cleanup.",
	})

	provisioning = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_profile_provisioning_total",
			Help: "Profile provisioning attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Authentication and gate decisions by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	auditRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Audit entries recorded by action result and sink status.",
		},
		[]string{"success", "sink"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			sessionsCreated, sessionValidations, sessionsCleaned,
			provisioning, authDecisions, auditRecords,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionCreated counts an issued session.
func SessionCreated() { sessionsCreated.Inc() }

// SessionValidated counts a validation with outcome valid, expired, not_found or error.
func SessionValidated(outcome string) { sessionValidations.WithLabelValues(outcome).Inc() }

// SessionsCleaned adds n removed sessions.
func SessionsCleaned(n int64) {
	if n > 0 {
		sessionsCleaned.Add(float64(n))
	}
}

// ProfileProvisioned counts a provisioning attempt with outcome existing, created, raced or failed.
func ProfileProvisioned(outcome string) { provisioning.WithLabelValues(outcome).Inc() }

// AuthDecision counts an authentication or gate decision.
func AuthDecision(transport, outcome string) {
	authDecisions.WithLabelValues(transport, outcome).Inc()
}

// AuditRecorded counts an audit entry.
func AuditRecorded(success bool, sinkOK bool) {
	sink := "ok"
	if !sinkOK {
		sink = "error"
	}
	auditRecords.WithLabelValues(strconv.FormatBool(success), sink).Inc()
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses owner identifiers so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "profiles" &&
		(parts[4] == "role" || parts[4] == "status"):
		parts[3] = ":id"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "users" && parts[4] == "sessions":
		parts[3] = ":id"
	default:
		return path
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
