// Package middleware provides RPC middleware for the StreamJam server:
// Prometheus metrics and OpenTelemetry tracing around component RPC
// execution.
//
// Middleware is configured on the server and wraps every RPC, outermost
// first:
//
//	cfg := server.DefaultServerConfig()
//	cfg.RPCMiddleware = []server.RPCMiddleware{
//	    middleware.OpenTelemetry(),
//	    middleware.Prometheus(),
//	}
package middleware
