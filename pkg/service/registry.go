package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamjam/streamjam/internal/taskgroup"
	"github.com/streamjam/streamjam/pkg/pubsub"
)

// Registry holds every service executor in the process. Services are
// added before InitAll, initialized exactly once, and live until Close at
// process shutdown.
type Registry struct {
	broker      *pubsub.Broker
	logger      *slog.Logger
	callTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	executors   map[string]*Executor
	order       []string
	initialized bool
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CallTimeout bounds each proxied service call.
	// Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
}

// NewRegistry creates a Registry bound to the broker.
func NewRegistry(broker *pubsub.Broker, opts *RegistryOptions) *Registry {
	if opts == nil {
		opts = &RegistryOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		broker:      broker,
		logger:      logger.With("component", "services"),
		callTimeout: timeout,
		ctx:         ctx,
		cancel:      cancel,
		executors:   map[string]*Executor{},
	}
}

// Add registers a service under a name. Adding after InitAll or reusing a
// name is a programming error and panics.
func (r *Registry) Add(name string, construct func() Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		panic(fmt.Sprintf("service: Add(%q) after InitAll", name))
	}
	if _, ok := r.executors[name]; ok {
		panic(fmt.Sprintf("service: duplicate service %q", name))
	}
	r.executors[name] = newExecutor(name, construct, r)
	r.order = append(r.order, name)
}

// InitAll initializes every registered service in registration order:
// queue registration, event bindings, inbound loop, then the service's
// Init hook. It must complete before the transport serves connections and
// may only run once.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	r.initialized = true
	order := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, name := range order {
		if err := r.executors[name].initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Executor looks up a service's executor by name.
func (r *Registry) Executor(name string) (*Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return e, nil
}

// ProxyFor returns a proxy to a service whose call tasks are owned by the
// given task group.
func (r *Registry) ProxyFor(name string, owner *taskgroup.Group) (*Proxy, error) {
	e, err := r.Executor(name)
	if err != nil {
		return nil, err
	}
	return &Proxy{exec: e, owner: owner, timeout: r.CallTimeout()}, nil
}

// CallTimeout reports the per-call timeout applied to proxied calls.
func (r *Registry) CallTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callTimeout
}

// SetCallTimeout overrides the per-call timeout for proxies created after
// the call. Values <= 0 are ignored.
func (r *Registry) SetCallTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.callTimeout = d
	r.mu.Unlock()
}

// Names returns the registered service names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Close tears every executor down. Only called at process shutdown.
func (r *Registry) Close() {
	r.cancel()
	r.mu.RLock()
	executors := make([]*Executor, 0, len(r.executors))
	for _, e := range r.executors {
		executors = append(executors, e)
	}
	r.mu.RUnlock()
	for _, e := range executors {
		e.close()
	}
}
