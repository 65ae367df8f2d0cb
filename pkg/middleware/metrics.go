package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/streamjam/streamjam/pkg/server"
)

// MetricsConfig configures the Prometheus RPC middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "streamjam").
	Namespace string

	// Subsystem is the metrics subsystem (default: "rpc").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for RPC duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus RPC middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "streamjam",
		Subsystem: "rpc",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type rpcMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

func initMetrics(config MetricsConfig) *rpcMetrics {
	factory := promauto.With(config.Registry)

	return &rpcMetrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "calls_total",
			Help:        "Component RPC calls by type, method, and status",
			ConstLabels: config.ConstLabels,
		}, []string{"component_type", "method", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_duration_seconds",
			Help:        "Component RPC duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"component_type", "method"}),
	}
}

// Prometheus creates middleware that records a counter and a duration
// histogram per component RPC, labeled by component type and method name.
// Component ids never become labels: they are unbounded.
func Prometheus(opts ...MetricsOption) server.RPCMiddleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	m := initMetrics(config)

	return func(next server.RPCInvoker) server.RPCInvoker {
		return func(ctx context.Context, info *server.RPCInfo, args []any) (any, error) {
			componentType := info.ComponentType
			if componentType == "" {
				componentType = "unknown"
			}

			start := time.Now()
			result, err := next(ctx, info, args)
			m.callDuration.WithLabelValues(componentType, info.Method).
				Observe(time.Since(start).Seconds())

			status := "success"
			if err != nil {
				status = "error"
			}
			m.callsTotal.WithLabelValues(componentType, info.Method, status).Inc()

			return result, err
		}
	}
}
