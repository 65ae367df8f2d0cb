package service

import (
	"context"
	"time"

	"github.com/streamjam/streamjam/internal/taskgroup"
)

// DefaultCallTimeout bounds a proxied service call. The original design
// had no timeout; this is a documented extension, configurable per
// registry.
const DefaultCallTimeout = 30 * time.Second

// Future carries the eventual result of an asynchronous service call.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the call completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the call completes or ctx is done. The caller's
// cancellation does not cancel the call itself: the callee's task keeps
// running under its owner.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Proxy calls into one service on behalf of an owner. The owner's task
// group runs and bounds the call tasks, so tearing the owner down cancels
// its in-flight calls without touching the service itself.
type Proxy struct {
	exec    *Executor
	owner   *taskgroup.Group
	timeout time.Duration
}

// ServiceName returns the name of the proxied service.
func (p *Proxy) ServiceName() string { return p.exec.name }

// Call schedules method execution as a background task owned by the
// caller and returns a Future for the result. Method resolution failures
// surface on the Future, never as a panic or a dropped call.
func (p *Proxy) Call(method string, args ...any) *Future {
	f := newFuture()
	accepted := p.owner.Go("call "+p.exec.name+"."+method, func(ctx context.Context) {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		f.resolve(p.exec.Execute(callCtx, method, args))
	})
	if !accepted {
		// Owner already torn down; resolve rather than hang the caller.
		f.resolve(nil, context.Canceled)
	}
	return f
}

// Method returns a proxy bound to one (service, method) pair. Call sites
// hold these, or typed wrappers around them, instead of addressing the
// executor directly.
func (p *Proxy) Method(name string) *MethodProxy {
	return &MethodProxy{proxy: p, method: name}
}

// MethodProxy is a callable handle bound to (service_name, method_name).
type MethodProxy struct {
	proxy  *Proxy
	method string
}

// Invoke schedules the bound method and returns its Future.
func (mp *MethodProxy) Invoke(args ...any) *Future {
	return mp.proxy.Call(mp.method, args...)
}
