package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamjam/streamjam/pkg/server"
)

const defaultTracerName = "streamjam"

// OTelConfig configures the OpenTelemetry RPC middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "streamjam").
	TracerName string

	// IncludeSessionID includes the session id in spans. Session ids can
	// carry user-identifying paths, so this is disabled by default.
	IncludeSessionID bool

	// Filter determines which RPCs to trace. Return true to trace the
	// call. If nil, all calls are traced.
	Filter func(info *server.RPCInfo) bool

	// AttributeExtractor extracts custom attributes per traced call.
	AttributeExtractor func(info *server.RPCInfo) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry RPC middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeSessionID enables including the session id in spans.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithFilter sets a filter function for RPCs.
func WithFilter(filter func(info *server.RPCInfo) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(info *server.RPCInfo) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates middleware that opens a span per component RPC,
// records failures as span errors, and hands the span context to the
// method so downstream calls propagate the trace.
//
// The tracer comes from the global OpenTelemetry tracer provider;
// configure it in main() before starting the server.
func OpenTelemetry(opts ...OTelOption) server.RPCMiddleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tracer := otel.Tracer(config.TracerName)

	return func(next server.RPCInvoker) server.RPCInvoker {
		return func(ctx context.Context, info *server.RPCInfo, args []any) (any, error) {
			if config.Filter != nil && !config.Filter(info) {
				return next(ctx, info, args)
			}

			attrs := []attribute.KeyValue{
				attribute.String("streamjam.component_type", info.ComponentType),
				attribute.String("streamjam.component_id", info.ComponentID),
				attribute.String("streamjam.method", info.Method),
				attribute.Int("streamjam.arg_count", len(args)),
			}
			if config.IncludeSessionID {
				attrs = append(attrs, attribute.String("streamjam.session_id", info.SessionID))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(info)...)
			}

			spanCtx, span := tracer.Start(ctx,
				fmt.Sprintf("rpc %s.%s", info.ComponentType, info.Method),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			result, err := next(spanCtx, info, args)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}
