// Package metrics exposes Prometheus instrumentation for the routing core.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Routing metrics
	RoutingDecisions   *prometheus.CounterVec
	MenusSent          *prometheus.CounterVec
	Assignments        *prometheus.CounterVec
	AssignmentRetries  prometheus.Counter
	Transfers          *prometheus.CounterVec
	ConversationEvents *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	LockWait           prometheus.Histogram

	// System metrics
	EventsPublished     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all collectors once per process.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			RoutingDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_decisions_total",
					Help: "Inbound items evaluated by the queue router, by resulting state",
				},
				[]string{"state"},
			),
			MenusSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_menus_sent_total",
					Help: "Queue menus sent to contacts",
				},
				[]string{"kind"},
			),
			Assignments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_assignments_total",
					Help: "Round-robin assignment attempts",
				},
				[]string{"result"},
			),
			AssignmentRetries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "routing_assignment_cas_retries_total",
					Help: "Marker compare-and-swap conflicts retried by the assigner",
				},
			),
			Transfers: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_transfers_total",
					Help: "Lead transfers performed",
				},
				[]string{"target"},
			),
			ConversationEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_conversation_events_total",
					Help: "Conversation lifecycle changes",
				},
				[]string{"event"},
			),
			SideEffectFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_side_effect_failures_total",
					Help: "Best-effort notifications that failed after commit",
				},
				[]string{"kind"},
			),
			LockWait: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "routing_lead_lock_wait_seconds",
					Help:    "Time spent waiting for the per-lead serialization lock",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_events_published_total",
					Help: "Domain events forwarded to the external event stream",
				},
				[]string{"type", "success"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "routing_http_requests_total",
					Help: "HTTP requests served",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "routing_http_request_duration_seconds",
					Help:    "HTTP request latency",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})
	return sharedMetrics
}

// RecordDecision counts a routing decision.
func (m *Metrics) RecordDecision(state string, menuKind string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(state).Inc()
	if menuKind != "" {
		m.MenusSent.WithLabelValues(menuKind).Inc()
	}
}

// RecordAssignment counts an assignment outcome: assigned, empty or error.
func (m *Metrics) RecordAssignment(result string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(result).Inc()
}

// RecordAssignmentRetry counts a lost compare-and-swap race.
func (m *Metrics) RecordAssignmentRetry() {
	if m == nil {
		return
	}
	m.AssignmentRetries.Inc()
}

// RecordTransfer counts a transfer to a handler or a queue.
func (m *Metrics) RecordTransfer(target string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(target).Inc()
}

// RecordConversation counts a conversation lifecycle event.
func (m *Metrics) RecordConversation(event string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(event).Inc()
}

// RecordSideEffectFailure counts a failed post-commit notification.
func (m *Metrics) RecordSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(kind).Inc()
}

// ObserveLockWait records how long a caller waited for a lead lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// RecordEventPublished counts a forwarded domain event.
func (m *Metrics) RecordEventPublished(eventType string, success bool) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
}

// GinMiddleware records request counts and latency keyed by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
