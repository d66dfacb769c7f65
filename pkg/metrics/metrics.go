package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Gateway metrics
	ConnectionsActive prometheus.Gauge
	AuthFailures      *prometheus.CounterVec
	RoomJoins         *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	Deliveries        prometheus.Counter
	InboundRejected   *prometheus.CounterVec

	// Notification metrics
	NotificationsCreated *prometheus.CounterVec
	NotificationsFailed  prometheus.Counter

	// Audit metrics
	AuditEvents        *prometheus.CounterVec
	AuditBuffered      prometheus.Gauge
	AuditFlushDuration prometheus.Histogram
	AuditFlushFailures prometheus.Counter
	AuditDropped       *prometheus.CounterVec
	AuditAlerts        *prometheus.CounterVec

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// Tests pass prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Current number of authenticated realtime connections",
		}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Total number of refused handshakes by reason",
		}, []string{"reason"}),
		RoomJoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "room_joins_total",
			Help:      "Total number of room join attempts",
		}, []string{"kind", "result"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "broadcasts_total",
			Help:      "Total number of room broadcasts by event",
		}, []string{"event"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to connections",
		}),
		InboundRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inbound_rejected_total",
			Help:      "Inbound client messages rejected before handling",
		}, []string{"reason"}),

		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Total number of persisted notifications by type",
		}, []string{"type"}),
		NotificationsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "failed_total",
			Help:      "Total number of notifications that could not be persisted",
		}),

		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Total number of audit events logged by risk level",
		}, []string{"risk"}),
		AuditBuffered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffered_events",
			Help:      "Current number of audit events waiting for flush",
		}),
		AuditFlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing a batch to the audit store",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AuditFlushFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "flush_failures_total",
			Help:      "Total number of failed audit flushes",
		}),
		AuditDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_events_total",
			Help:      "Audit events dropped by the overflow policy",
		}, []string{"risk"}),
		AuditAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "alerts_total",
			Help:      "Realtime alerts by result",
		}, []string{"result"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}
}

// NewNop returns metrics registered against a throwaway registry.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry(), "test")
}
