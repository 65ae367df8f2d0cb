package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamjam/streamjam/internal/taskgroup"
	"github.com/streamjam/streamjam/pkg/pubsub"
)

type bindingKey struct {
	service string
	event   string
}

// Executor wraps one service instance: it owns the service's inbound
// queue, its event loop, its task group, and its method table.
type Executor struct {
	name     string
	channel  string
	instance Service
	runtime  *Runtime
	methods  map[string]Method
	handlers map[bindingKey][]EventHandler

	broker *pubsub.Broker
	queue  *pubsub.Queue
	tasks  *taskgroup.Group
	logger *slog.Logger
}

func newExecutor(name string, construct func() Service, reg *Registry) *Executor {
	logger := reg.logger.With("service", name)
	e := &Executor{
		name:     name,
		channel:  ChannelName(name),
		instance: construct(),
		methods:  map[string]Method{},
		handlers: map[bindingKey][]EventHandler{},
		broker:   reg.broker,
		queue:    pubsub.NewQueue(),
		tasks:    taskgroup.New(reg.ctx, "service "+name, logger),
		logger:   logger,
	}
	e.runtime = &Runtime{
		name:     name,
		channel:  e.channel,
		broker:   reg.broker,
		registry: reg,
		tasks:    e.tasks,
		logger:   logger,
		state:    map[string]any{},
	}
	return e
}

// initialize registers the service's queue, wires its peer-event
// subscriptions and method table, starts the inbound loop, and runs the
// service's Init hook. Called exactly once, from Registry.InitAll.
func (e *Executor) initialize(ctx context.Context) error {
	e.broker.Register(e.name, e.queue)

	if mp, ok := e.instance.(MethodProvider); ok {
		e.methods = mp.Methods()
	}
	if es, ok := e.instance.(EventSubscriber); ok {
		for _, b := range es.Bindings() {
			key := bindingKey{service: b.Service, event: b.Event}
			e.handlers[key] = append(e.handlers[key], b.Handler)
			e.broker.Subscribe(e.name, ChannelName(b.Service), b.Event)
		}
	}

	e.tasks.Go("event-loop", e.eventLoop)

	if err := e.instance.Init(ctx, e.runtime); err != nil {
		return fmt.Errorf("service %s: init: %w", e.name, err)
	}
	e.logger.Info("service initialized")
	return nil
}

// Name returns the service's registered name.
func (e *Executor) Name() string { return e.name }

// Execute invokes a declared method by name. A name that does not resolve
// fails with ErrMethodNotFound; the error travels back on the caller's
// result channel, it never crashes any loop.
func (e *Executor) Execute(ctx context.Context, method string, args []any) (any, error) {
	m, ok := e.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, e.name, method)
	}
	return m(ctx, args)
}

// eventLoop drains the service's inbound queue. Each event fans out to
// every bound handler as an independent task, so a slow or failing handler
// never blocks the loop or its siblings.
func (e *Executor) eventLoop(ctx context.Context) {
	for {
		ev, err := e.queue.Receive(ctx)
		if err != nil {
			return
		}
		key := bindingKey{service: ev.Source, event: ev.Name}
		for _, h := range e.handlers[key] {
			h := h
			ev := ev
			e.tasks.Go("handle "+ev.Name, func(ctx context.Context) {
				h(ctx, ev)
			})
		}
	}
}

// close stops the executor's loop and tasks. Only the registry calls this,
// at process shutdown.
func (e *Executor) close() {
	e.queue.Close()
	e.broker.Quit(e.name)
	e.tasks.Close()
}
