package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine and its HTTP surface.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Run metrics
	RunsStartedTotal     *prometheus.CounterVec
	RunDuration          *prometheus.HistogramVec
	RunsInFlight         prometheus.Gauge
	RunStatusTransitions *prometheus.CounterVec

	// Node metrics
	NodeTransitionsTotal *prometheus.CounterVec
	NodeDuration         *prometheus.HistogramVec

	// Worker dispatch metrics
	WebhookDispatchTotal    *prometheus.CounterVec
	WebhookDispatchDuration prometheus.Histogram

	// Event bus metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Database metrics
	DBQueriesTotal      *prometheus.CounterVec
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stitch"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RunsStartedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"flow_id"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds, from start to terminal status",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"status"},
		),
		RunsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Number of runs not yet in a terminal status",
			},
		),
		RunStatusTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_status_transitions_total",
				Help:      "Total number of run aggregate-status transitions",
			},
			[]string{"to_status"},
		),

		NodeTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_transitions_total",
				Help:      "Total number of node-state transitions, by node kind and resulting status",
			},
			[]string{"kind", "status"},
		),
		NodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration a node spent running/waiting_for_user before reaching a terminal status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		WebhookDispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_dispatch_total",
				Help:      "Total number of Worker webhook dispatch attempts, by outcome",
			},
			[]string{"outcome"},
		),
		WebhookDispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_dispatch_duration_seconds",
				Help:      "Latency of the outbound Worker webhook POST",
				Buckets:   prometheus.DefBuckets,
			},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of run/node lifecycle events published",
			},
			[]string{"event_type"},
		),

		DBQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_active",
				Help:      "Number of active database connections",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRunStarted records a run start.
func (m *Metrics) RecordRunStarted(flowID string) {
	m.RunsStartedTotal.WithLabelValues(flowID).Inc()
	m.RunsInFlight.Inc()
}

// RecordRunFinished records a run reaching a terminal status.
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	m.RunStatusTransitions.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.RunsInFlight.Dec()
}

// RecordNodeTransition records a node-state transition.
func (m *Metrics) RecordNodeTransition(kind, status string, duration time.Duration) {
	m.NodeTransitionsTotal.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		m.NodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordWebhookDispatch records the outcome and latency of one Worker
// webhook POST.
func (m *Metrics) RecordWebhookDispatch(outcome string, duration time.Duration) {
	m.WebhookDispatchTotal.WithLabelValues(outcome).Inc()
	m.WebhookDispatchDuration.Observe(duration.Seconds())
}

// RecordEventPublished records one event-bus publish.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
