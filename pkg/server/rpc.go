package server

import "context"

// RPCInfo describes one RPC invocation to middleware.
type RPCInfo struct {
	SessionID     string
	ComponentID   string
	ComponentType string
	Method        string
}

// RPCInvoker executes one component RPC.
type RPCInvoker func(ctx context.Context, info *RPCInfo, args []any) (any, error)

// RPCMiddleware wraps RPC execution. Middleware run outermost first, in
// the order configured on the server.
type RPCMiddleware func(RPCInvoker) RPCInvoker

// chainRPC wraps the invoker with the middleware stack.
func chainRPC(invoker RPCInvoker, mws []RPCMiddleware) RPCInvoker {
	for i := len(mws) - 1; i >= 0; i-- {
		invoker = mws[i](invoker)
	}
	return invoker
}
