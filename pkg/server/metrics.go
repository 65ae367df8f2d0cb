package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	messagesIn      prometheus.Counter
	messagesOut     prometheus.Counter
	messagesDropped prometheus.Counter
	components      prometheus.Gauge
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)
	return &serverMetrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "Resident sessions, attached or awaiting reattach.",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "sessions_closed_total",
			Help:      "Sessions destroyed.",
		}),
		messagesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "messages_in_total",
			Help:      "Wire messages received.",
		}),
		messagesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "messages_out_total",
			Help:      "Wire messages written to transports.",
		}),
		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped on a full queue.",
		}),
		components: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamjam",
			Subsystem: "server",
			Name:      "components",
			Help:      "Live components across all sessions.",
		}),
	}
}
