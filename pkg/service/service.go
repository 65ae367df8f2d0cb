package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/streamjam/streamjam/internal/taskgroup"
	"github.com/streamjam/streamjam/pkg/pubsub"
)

// ChannelPrefix namespaces every service's private broker channel.
const ChannelPrefix = "$Service/"

// ChannelName returns the broker channel name for a service.
func ChannelName(service string) string {
	return ChannelPrefix + service
}

// Method is a callable service method. All service methods are
// conceptually asynchronous: they run on a background task owned by the
// caller and must honor ctx cancellation on blocking work.
type Method func(ctx context.Context, args []any) (any, error)

// Service is the user-implemented singleton. Init runs exactly once,
// after the service's queue and event loop are wired, and before the
// transport accepts connections.
type Service interface {
	Init(ctx context.Context, rt *Runtime) error
}

// MethodProvider declares the service's callable methods as a static
// table. Services without remotely callable methods omit it.
type MethodProvider interface {
	Methods() map[string]Method
}

// EventHandler handles one event delivered from a peer service's channel.
type EventHandler func(ctx context.Context, ev *pubsub.Event)

// Binding subscribes a service to one event on a peer service's channel.
type Binding struct {
	Service string
	Event   string
	Handler EventHandler
}

// EventSubscriber declares the service's peer-event bindings.
type EventSubscriber interface {
	Bindings() []Binding
}

// Runtime is handed to a service at Init. It gives the service its
// identity, its broker channel, peer proxies, task spawning, a logger, and
// a private state map.
type Runtime struct {
	name     string
	channel  string
	broker   *pubsub.Broker
	registry *Registry
	tasks    *taskgroup.Group
	logger   *slog.Logger

	stateMu sync.RWMutex
	state   map[string]any
}

// Name returns the service's registered name.
func (rt *Runtime) Name() string { return rt.name }

// Channel returns the service's private broker channel.
func (rt *Runtime) Channel() string { return rt.channel }

// Logger returns the service's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Go runs fn as a background task owned by the service.
func (rt *Runtime) Go(name string, fn func(ctx context.Context)) {
	rt.tasks.Go(name, fn)
}

// Service returns a proxy to a peer service, bound to this service's task
// group.
func (rt *Runtime) Service(name string) (*Proxy, error) {
	return rt.registry.ProxyFor(name, rt.tasks)
}

// JoinRoom adds a subscriber id to a room on this service's channel.
func (rt *Runtime) JoinRoom(id, room string) {
	rt.broker.JoinRoom(id, rt.channel, room)
}

// LeaveRoom removes a subscriber id from a room on this service's channel.
func (rt *Runtime) LeaveRoom(id, room string) {
	rt.broker.LeaveRoom(id, rt.channel, room)
}

// Set stores a value in the service's private state map.
func (rt *Runtime) Set(key string, value any) {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	rt.state[key] = value
}

// Get reads a value from the service's private state map.
func (rt *Runtime) Get(key string) (any, bool) {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	v, ok := rt.state[key]
	return v, ok
}

// DispatchOption adjusts how a dispatched event is published.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	priority   int
	rooms      []string
	recipients []string
	exclude    []string
}

// WithPriority sets the event's delivery priority (lower first).
func WithPriority(p int) DispatchOption {
	return func(o *dispatchOptions) { o.priority = p }
}

// ToRooms restricts delivery to members of the given rooms.
func ToRooms(rooms ...string) DispatchOption {
	return func(o *dispatchOptions) { o.rooms = append(o.rooms, rooms...) }
}

// ToRecipients restricts delivery to the given subscriber ids.
func ToRecipients(ids ...string) DispatchOption {
	return func(o *dispatchOptions) { o.recipients = append(o.recipients, ids...) }
}

// Exclude removes the given subscriber ids from delivery.
func Exclude(ids ...string) DispatchOption {
	return func(o *dispatchOptions) { o.exclude = append(o.exclude, ids...) }
}

// Dispatch publishes an event on the service's own channel. This is the
// only way a service emits events: it cannot publish on another service's
// channel.
func (rt *Runtime) Dispatch(name string, data any, opts ...DispatchOption) {
	o := dispatchOptions{priority: pubsub.DefaultPriority}
	for _, opt := range opts {
		opt(&o)
	}

	ev := &pubsub.Event{
		Name:     name,
		Source:   rt.name,
		Data:     data,
		Priority: o.priority,
	}

	var pubOpts []pubsub.PublishOption
	if len(o.rooms) > 0 {
		pubOpts = append(pubOpts, pubsub.ToRooms(o.rooms...))
	}
	if len(o.recipients) > 0 {
		pubOpts = append(pubOpts, pubsub.ToRecipients(o.recipients...))
	}
	if len(o.exclude) > 0 {
		pubOpts = append(pubOpts, pubsub.Exclude(o.exclude...))
	}
	rt.broker.Publish(rt.channel, ev, pubOpts...)
}
