package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type brokerMetrics struct {
	published   prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

func newBrokerMetrics(reg prometheus.Registerer) *brokerMetrics {
	factory := promauto.With(reg)
	return &brokerMetrics{
		published: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "broker",
			Name:      "events_published_total",
			Help:      "Events published to the broker.",
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "broker",
			Name:      "events_delivered_total",
			Help:      "Event deliveries enqueued to subscriber queues.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "streamjam",
			Subsystem: "broker",
			Name:      "events_dropped_total",
			Help:      "Deliveries skipped because the subscriber had no registered queue.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamjam",
			Subsystem: "broker",
			Name:      "subscribers",
			Help:      "Subscriber ids with a registered delivery queue.",
		}),
	}
}
