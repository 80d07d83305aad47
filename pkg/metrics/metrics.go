// Package metrics wraps Prometheus collectors for the conversation and
// escalation core. Each process owns one Collector with its own registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pre-defined metric vectors.
type Collector struct {
	registry *prometheus.Registry

	ConversationsStarted  prometheus.Counter
	ConversationsEnded    *prometheus.CounterVec
	TurnsAppended         *prometheus.CounterVec
	ActiveConversations   prometheus.Gauge
	EscalationsTriggered  *prometheus.CounterVec
	EscalationSLABreaches *prometheus.CounterVec
	TimeToAcknowledge     prometheus.Histogram
	TimeToResolve         prometheus.Histogram
	NotificationsSent     *prometheus.CounterVec
	NotificationsQueued   prometheus.Counter
	NotificationsDropped  *prometheus.CounterVec
	StaffConnections      *prometheus.GaugeVec
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	const ns = "carevox"

	c := &Collector{
		registry: reg,
		ConversationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "conversations_started_total",
			Help:      "Total number of conversations started",
		}),
		ConversationsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "conversations_ended_total",
			Help:      "Total number of conversations ended, by ending type",
		}, []string{"ending"}),
		TurnsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "turns_appended_total",
			Help:      "Total number of turns appended, by speaker",
		}, []string{"speaker"}),
		ActiveConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_conversations",
			Help:      "Conversations currently holding live timers",
		}),
		EscalationsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "escalations_triggered_total",
			Help:      "Total escalations triggered, by trigger and priority",
		}, []string{"trigger", "priority"}),
		EscalationSLABreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "escalation_sla_breaches_total",
			Help:      "Total SLA breach broadcasts, by priority",
		}, []string{"priority"}),
		TimeToAcknowledge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "escalation_time_to_acknowledge_seconds",
			Help:      "Seconds from trigger to staff acknowledgement",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1800},
		}),
		TimeToResolve: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "escalation_time_to_resolve_seconds",
			Help:      "Seconds from trigger to resolution",
			Buckets:   []float64{60, 300, 600, 1800, 3600, 7200},
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered to staff connections, by department",
		}, []string{"department"}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notifications_queued_total",
			Help:      "Notifications queued because no staff connection was reachable",
		}),
		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notifications_dropped_total",
			Help:      "Queued notifications dropped, by reason",
		}, []string{"reason"}),
		StaffConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "staff_connections",
			Help:      "Registered staff connections, by department",
		}, []string{"department"}),
	}

	reg.MustRegister(
		c.ConversationsStarted,
		c.ConversationsEnded,
		c.TurnsAppended,
		c.ActiveConversations,
		c.EscalationsTriggered,
		c.EscalationSLABreaches,
		c.TimeToAcknowledge,
		c.TimeToResolve,
		c.NotificationsSent,
		c.NotificationsQueued,
		c.NotificationsDropped,
		c.StaffConnections,
	)
	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
