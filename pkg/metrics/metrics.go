// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsTotal tracks sessions created per app.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_sessions_total",
			Help: "Total guest sessions created",
		},
		[]string{"app_id"},
	)

	// SessionTransitionsTotal tracks session lifecycle transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_session_transitions_total",
			Help: "Total session state transitions",
		},
		[]string{"action"},
	)

	// MessagesTotal tracks total messages appended per sender type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_messages_total",
			Help: "Total messages appended to session ledgers",
		},
		[]string{"app_id", "sender_type"},
	)

	// SSEConnectionsActive tracks active SSE connections per party.
	SSEConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
		[]string{"party"},
	)

	// PushesTotal tracks push notification outcomes.
	PushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_pushes_total",
			Help: "Push notification attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AuditPublishFailures tracks failed audit event publishes.
	AuditPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "support_audit_publish_failures_total",
			Help: "Audit events that could not be published",
		},
	)

	// PersistFailures tracks failed write-behind persistence operations.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "support_persist_failures_total",
			Help: "Write-behind persistence operations that failed",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPush records the outcome of a push attempt: "delivered", "dropped",
// or "no_target".
func RecordPush(outcome string) {
	PushesTotal.WithLabelValues(outcome).Inc()
}
