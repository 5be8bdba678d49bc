package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	GuardBlocksTotal *prometheus.CounterVec

	// Audit pipeline metrics
	AuditEventsTotal     *prometheus.CounterVec
	AuditQueueDepth      prometheus.Gauge
	AuditDroppedTotal    prometheus.Counter
	AuditRetriesTotal    prometheus.Counter
	AuditDeadLetterTotal prometheus.Counter

	// Integrity metrics
	IntegrityChecksTotal *prometheus.CounterVec
	IntegrityFixesTotal  *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vistoria_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_authz_decisions_total",
				Help: "Total number of authorization decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vistoria_authz_decision_duration_seconds",
				Help:    "Authorization decision latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"outcome"},
		),
		GuardBlocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_guard_blocks_total",
				Help: "Mutations blocked by the protected-identity guard, by code",
			},
			[]string{"code"},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_audit_events_total",
				Help: "Audit events recorded, by action type and blocked flag",
			},
			[]string{"action_type", "blocked"},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vistoria_audit_queue_depth",
				Help: "Current depth of the asynchronous audit queue",
			},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vistoria_audit_dropped_total",
				Help: "Audit events dropped because the queue was full",
			},
		),
		AuditRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vistoria_audit_retries_total",
				Help: "Audit write retries",
			},
		),
		AuditDeadLetterTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vistoria_audit_dead_letter_total",
				Help: "Audit events diverted to the dead-letter file",
			},
		),
		IntegrityChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_integrity_checks_total",
				Help: "Protected-identity integrity checks, by resulting status",
			},
			[]string{"status"},
		),
		IntegrityFixesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vistoria_integrity_fixes_total",
				Help: "Protected-identity auto-fix runs, by action taken",
			},
			[]string{"action"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vistoria_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vistoria_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.GuardBlocksTotal,
		m.AuditEventsTotal,
		m.AuditQueueDepth,
		m.AuditDroppedTotal,
		m.AuditRetriesTotal,
		m.AuditDeadLetterTotal,
		m.IntegrityChecksTotal,
		m.IntegrityFixesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments a handler with request count and duration
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
