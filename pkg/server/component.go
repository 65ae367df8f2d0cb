package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamjam/streamjam/internal/taskgroup"
	"github.com/streamjam/streamjam/pkg/protocol"
	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

// RootComponentID is the implicit root of every session's component tree.
const RootComponentID = "root"

// Component is a server-side stateful object bound to one session. Its
// state map is the single source of truth mirrored to the client: every
// server-side write to a declared property emits an outbound store-value
// message, while client-originated writes are stored without an echo.
type Component struct {
	id       string
	parentID string
	def      *ComponentDef
	session  *Session

	stateMu sync.RWMutex
	state   map[string]any

	// children are exclusively owned; the session mutates this under its
	// own table lock.
	children []*Component

	// serviceHandlers mirrors the def's service bindings for the receive
	// loop, keyed by (source service, event name).
	serviceHandlers map[serviceEventKey][]ServiceEventFunc

	proxies map[string]*service.Proxy
	queue   *pubsub.Queue
	tasks   *taskgroup.Group
}

type serviceEventKey struct {
	service string
	event   string
}

// ID returns the component id, unique within its session.
func (c *Component) ID() string { return c.id }

// ParentID returns the id of the parent component. The root component has
// an empty parent id.
func (c *Component) ParentID() string { return c.parentID }

// Type returns the component's registered type name.
func (c *Component) Type() string { return c.def.Type }

// Session returns the owning session.
func (c *Component) Session() *Session { return c.session }

// SubscriberID is the component's broker identity: session id and
// component id joined with a slash. Services use it to scope room
// membership and directed events to one component instance.
func (c *Component) SubscriberID() string {
	return c.session.ID + "/" + c.id
}

// Get returns the current value of a declared property, or its declared
// default when the state has no entry.
func (c *Component) Get(name string) any {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state[name]
}

// GetInt returns a numeric property as an int. JSON decoding stores
// numbers as float64; declared defaults may be native ints.
func (c *Component) GetInt(name string) int {
	switch v := c.Get(name).(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Set writes a declared property and mirrors the new value to the client
// as a store-value message. Writes to undeclared names update state but
// are not mirrored.
func (c *Component) Set(name string, value any) {
	c.stateMu.Lock()
	c.state[name] = value
	c.stateMu.Unlock()

	if c.def.declared(name) {
		c.session.send(protocol.StoreValueMessage(c.id, name, value))
	}
}

// setFromClient writes a client-originated value without echoing it back,
// which breaks the client -> server -> client update loop.
func (c *Component) setFromClient(name string, value any) {
	c.stateMu.Lock()
	c.state[name] = value
	c.stateMu.Unlock()
}

// State returns a snapshot of the component's state.
func (c *Component) State() map[string]any {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	snapshot := make(map[string]any, len(c.state))
	for k, v := range c.state {
		snapshot[k] = v
	}
	return snapshot
}

// Service returns the proxy handle for a declared service dependency.
func (c *Component) Service(name string) (*service.Proxy, error) {
	p, ok := c.proxies[name]
	if !ok {
		return nil, fmt.Errorf("%w: component %s does not declare service %s",
			service.ErrServiceNotFound, c.id, name)
	}
	return p, nil
}

// Dispatch puts a local event on the session's event queue. Every session
// handler registered for the name runs as an independent task.
func (c *Component) Dispatch(name string, data any) {
	c.session.queueEvent(&ComponentEvent{Name: name, Source: c, Data: data})
}

// Go runs fn as a background task owned by the component.
func (c *Component) Go(name string, fn func(ctx context.Context)) {
	c.tasks.Go(name, fn)
}

// execRPC resolves an RPC-exposed method by name and runs it. Unflagged
// or unknown names fail with ErrRPCNotFound; the caller converts any
// failure into the rpc-result error envelope.
func (c *Component) execRPC(ctx context.Context, name string, args []any) (any, error) {
	fn, ok := c.def.RPC[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrRPCNotFound, c.def.Type, name)
	}
	return fn(ctx, c, args)
}

// receiveLoop drains the component's inbound priority queue. Every
// handler registered for a delivered event's (source, name) runs as an
// independently scheduled task so handlers never block each other or the
// loop.
func (c *Component) receiveLoop(ctx context.Context) {
	for {
		ev, err := c.queue.Receive(ctx)
		if err != nil {
			return
		}
		key := serviceEventKey{service: ev.Source, event: ev.Name}
		for _, h := range c.serviceHandlers[key] {
			h := h
			ev := ev
			c.tasks.Go("handle "+ev.Name, func(ctx context.Context) {
				h(ctx, c, ev)
			})
		}
	}
}

// destroy runs the component's teardown sequence: the OnDestroy hook,
// handler deregistration, broker quit, then task cancellation. The
// session removes the table entry afterwards, so no handler can fire for
// a component that is no longer reachable.
func (c *Component) destroy(ctx context.Context) {
	if c.def.OnDestroy != nil {
		if err := c.def.OnDestroy(ctx, c); err != nil {
			c.session.logger.Error("on_destroy hook failed",
				"component", c.id, "error", err)
		}
	}
	c.session.removeComponentHandlers(c.id)
	c.queue.Close()
	c.session.broker.Quit(c.SubscriberID())
	c.tasks.Close()
}
