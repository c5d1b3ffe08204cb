package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the gateway's counters. One Set is wired through the whole
// process; tests build their own with NewSet to avoid duplicate registration
// on the default registry.
type Set struct {
	registry *prometheus.Registry

	JobsTerminal           *prometheus.CounterVec
	InboundMessages        *prometheus.CounterVec
	NotificationsDelivered prometheus.Counter
	RemindersTriggered     prometheus.Counter
	DedupeHits             prometheus.Counter
}

func NewSet() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Set{
		registry: reg,
		JobsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_jobs_terminal_total",
			Help: "Jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_inbound_messages_total",
			Help: "Inbound messages accepted, by channel and handling mode.",
		}, []string{"channel", "mode"}),
		NotificationsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_notifications_delivered_total",
			Help: "Notifications handed to a channel adapter.",
		}),
		RemindersTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_reminders_triggered_total",
			Help: "Reminders that fired and were enqueued for delivery.",
		}),
		DedupeHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_inbound_dedupe_hits_total",
			Help: "Inbound messages dropped as duplicates.",
		}),
	}
}

// Handler serves the set's registry in the Prometheus text format.
func (s *Set) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
