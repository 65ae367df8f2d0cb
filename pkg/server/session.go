package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamjam/streamjam/internal/taskgroup"
	"github.com/streamjam/streamjam/pkg/protocol"
	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

// SessionState is the session lifecycle state.
type SessionState int32

const (
	// StateNew is a session that has not yet handled a connection.
	StateNew SessionState = iota

	// StateActive is a session with an attached transport.
	StateActive

	// StateDisconnected is a session whose transport dropped; it stays
	// resident and reattachable until the manager evicts it.
	StateDisconnected

	// StateDestroyed is the terminal state: the component tree is torn
	// down and the session is removed from the manager.
	StateDestroyed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

type storeKey struct {
	componentID string
	property    string
}

type eventHandlerEntry struct {
	componentID string
	fn          func(ctx context.Context, ev *ComponentEvent)
}

// Session owns one client's full component tree, the broker registrations
// for that connection, RPC execution, store-set routing, and a background
// task registry. It outlives any single transport: reconnection under the
// same derived identity reattaches here.
type Session struct {
	// ID is the stable identity derived from the connection.
	ID string

	CreatedAt time.Time

	state      atomic.Int32
	lastActive atomic.Int64

	conn     *websocket.Conn
	connMu   sync.Mutex
	connDead bool // send failure already logged for the current conn

	mu            sync.Mutex
	components    map[string]*Component
	eventHandlers map[string][]eventHandlerEntry
	storeHandlers map[storeKey]StoreUpdateFunc

	outbound chan *protocol.Message
	events   chan any // *ServerEvent or *ComponentEvent
	tasks    *taskgroup.Group

	broker   *pubsub.Broker
	services *service.Registry
	types    *TypeRegistry
	config   *SessionConfig
	logger   *slog.Logger
	metrics  *serverMetrics
	invoke   RPCInvoker

	// onDetach notifies the connection-tracking layer when the transport
	// drops. Set by the session manager.
	onDetach func(*Session)
}

var rootDef = &ComponentDef{Type: "Root"}

func newSession(
	id string,
	broker *pubsub.Broker,
	services *service.Registry,
	types *TypeRegistry,
	config *SessionConfig,
	mws []RPCMiddleware,
	metrics *serverMetrics,
	logger *slog.Logger,
) *Session {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", id)

	s := &Session{
		ID:            id,
		CreatedAt:     time.Now(),
		components:    map[string]*Component{},
		eventHandlers: map[string][]eventHandlerEntry{},
		storeHandlers: map[storeKey]StoreUpdateFunc{},
		outbound:      make(chan *protocol.Message, config.OutboundQueueSize),
		events:        make(chan any, config.EventQueueSize),
		tasks:         taskgroup.New(context.Background(), "session "+id, logger),
		broker:        broker,
		services:      services,
		types:         types,
		config:        config,
		logger:        logger,
		metrics:       metrics,
	}
	s.invoke = chainRPC(s.invokeRPC, mws)
	s.touch()

	root := &Component{
		id:      RootComponentID,
		def:     rootDef,
		session: s,
		state:   map[string]any{},
		queue:   pubsub.NewQueue(),
		tasks:   taskgroup.New(s.tasks.Context(), "component "+RootComponentID, logger),
	}
	s.components[RootComponentID] = root

	s.tasks.Go("outbound-loop", s.outboundLoop)
	s.tasks.Go("event-loop", s.eventLoop)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LastActive returns the time of the last transport activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Component looks up a component by id.
func (s *Session) Component(id string) (*Component, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.components[id]
	return c, ok
}

// ComponentCount returns the number of components, including the root.
func (s *Session) ComponentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.components)
}

// send enqueues an outbound message in strict FIFO order. A full queue
// drops the message with a warning rather than blocking the producer.
func (s *Session) send(msg *protocol.Message) {
	if s.State() == StateDestroyed {
		return
	}
	select {
	case s.outbound <- msg:
	default:
		s.logger.Warn("outbound queue full, dropping message",
			"topic", msg.Topic.String())
		if s.metrics != nil {
			s.metrics.messagesDropped.Inc()
		}
	}
}

// queueEvent enqueues a session event for the dispatch loop.
func (s *Session) queueEvent(ev any) {
	if s.State() == StateDestroyed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping event")
	}
}

// registerEventHandler binds a handler to an event name on behalf of a
// component.
func (s *Session) registerEventHandler(componentID, name string, fn func(ctx context.Context, ev *ComponentEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers[name] = append(s.eventHandlers[name],
		eventHandlerEntry{componentID: componentID, fn: fn})
}

// removeComponentHandlers deregisters every event and store-update handler
// a component registered. After this returns no handler owned by the
// component can fire.
func (s *Session) removeComponentHandlers(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, entries := range s.eventHandlers {
		kept := entries[:0]
		for _, e := range entries {
			if e.componentID != componentID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.eventHandlers, name)
		} else {
			s.eventHandlers[name] = kept
		}
	}
	for key := range s.storeHandlers {
		if key.componentID == componentID {
			delete(s.storeHandlers, key)
		}
	}
}

// AddComponent constructs a component from its registered type, wires its
// queue, handlers, and service proxies, runs its mount and connect hooks,
// and inserts it into the tree. The parent must already exist.
func (s *Session) AddComponent(ctx context.Context, id, parentID, typeName string, props map[string]any) (*Component, error) {
	if s.State() == StateDestroyed {
		return nil, NewSessionError(s.ID, "add_component", ErrSessionClosed)
	}

	def, err := s.types.Lookup(typeName)
	if err != nil {
		return nil, NewSessionError(s.ID, "add_component", err)
	}

	s.mu.Lock()
	if _, ok := s.components[id]; ok {
		s.mu.Unlock()
		return nil, NewSessionError(s.ID, "add_component", ErrComponentExists)
	}
	if _, ok := s.components[parentID]; !ok {
		s.mu.Unlock()
		return nil, NewSessionError(s.ID, "add_component", ErrParentNotFound)
	}
	s.mu.Unlock()

	c := &Component{
		id:              id,
		parentID:        parentID,
		def:             def,
		session:         s,
		state:           def.defaultState(),
		serviceHandlers: map[serviceEventKey][]ServiceEventFunc{},
		proxies:         map[string]*service.Proxy{},
		queue:           pubsub.NewQueue(),
		tasks:           taskgroup.New(s.tasks.Context(), "component "+id, s.logger),
	}

	// Initial props come from the client, which already knows them: merge
	// without echoing.
	for name, value := range props {
		c.state[name] = value
	}

	for _, name := range def.Services {
		proxy, err := s.services.ProxyFor(name, c.tasks)
		if err != nil {
			c.tasks.Close()
			return nil, NewSessionError(s.ID, "add_component", err)
		}
		c.proxies[name] = proxy
	}

	s.broker.Register(c.SubscriberID(), c.queue)
	for _, b := range def.OnServiceEvent {
		key := serviceEventKey{service: b.Service, event: b.Event}
		c.serviceHandlers[key] = append(c.serviceHandlers[key], b.Handler)
		s.broker.Subscribe(c.SubscriberID(), service.ChannelName(b.Service), b.Event)
	}

	s.registerComponentHandlers(c)
	c.tasks.Go("receive-loop", c.receiveLoop)

	if def.OnMount != nil {
		if err := def.OnMount(ctx, c); err != nil {
			s.rollbackComponent(c)
			return nil, NewSessionError(s.ID, "add_component: on_mount", err)
		}
	}
	if def.OnConnect != nil {
		if err := def.OnConnect(ctx, c); err != nil {
			s.rollbackComponent(c)
			return nil, NewSessionError(s.ID, "add_component: on_connect", err)
		}
	}

	s.mu.Lock()
	parent, ok := s.components[parentID]
	if !ok {
		s.mu.Unlock()
		s.rollbackComponent(c)
		return nil, NewSessionError(s.ID, "add_component", ErrParentNotFound)
	}
	s.components[id] = c
	parent.children = append(parent.children, c)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.components.Inc()
	}
	s.logger.Debug("component added", "component", id, "type", typeName, "parent", parentID)
	return c, nil
}

// registerComponentHandlers installs the def's handler tables for one
// instance.
func (s *Session) registerComponentHandlers(c *Component) {
	def := c.def
	for name, fn := range def.OnEvent {
		fn := fn
		s.registerEventHandler(c.id, name, func(ctx context.Context, ev *ComponentEvent) {
			fn(ctx, c, ev)
		})
	}
	if def.OnConnect != nil {
		fn := def.OnConnect
		s.registerEventHandler(c.id, EventSessionConnect, func(ctx context.Context, _ *ComponentEvent) {
			if err := fn(ctx, c); err != nil {
				s.logger.Error("on_connect handler failed", "component", c.id, "error", err)
			}
		})
	}
	if def.OnDisconnect != nil {
		fn := def.OnDisconnect
		s.registerEventHandler(c.id, EventSessionDisconnect, func(ctx context.Context, _ *ComponentEvent) {
			if err := fn(ctx, c); err != nil {
				s.logger.Error("on_disconnect handler failed", "component", c.id, "error", err)
			}
		})
	}
	s.mu.Lock()
	for prop, fn := range def.OnStoreUpdate {
		s.storeHandlers[storeKey{componentID: c.id, property: prop}] = fn
	}
	s.mu.Unlock()
}

// rollbackComponent undoes partial wiring when a construction hook fails,
// leaving the session table untouched.
func (s *Session) rollbackComponent(c *Component) {
	s.removeComponentHandlers(c.id)
	c.queue.Close()
	s.broker.Quit(c.SubscriberID())
	c.tasks.Close()
}

// DestroyComponent tears down a component and, depth-first, every
// descendant. Children are destroyed before their parent so no child ever
// outlives its owner.
func (s *Session) DestroyComponent(ctx context.Context, id string) error {
	if id == RootComponentID {
		return NewSessionError(s.ID, "destroy_component", ErrComponentNotFound)
	}

	s.mu.Lock()
	c, ok := s.components[id]
	if !ok {
		s.mu.Unlock()
		return NewSessionError(s.ID, "destroy_component", ErrComponentNotFound)
	}

	// Collect the subtree children-first and unlink it from the table and
	// the parent's child list while the lock is held.
	var subtree []*Component
	var collect func(*Component)
	collect = func(c *Component) {
		for _, child := range c.children {
			collect(child)
		}
		subtree = append(subtree, c)
		delete(s.components, c.id)
	}
	collect(c)

	if parent, ok := s.components[c.parentID]; ok {
		kept := parent.children[:0]
		for _, child := range parent.children {
			if child != c {
				kept = append(kept, child)
			}
		}
		parent.children = kept
	}
	s.mu.Unlock()

	for _, c := range subtree {
		c.destroy(ctx)
	}
	if s.metrics != nil {
		s.metrics.components.Sub(float64(len(subtree)))
	}
	s.logger.Debug("component destroyed", "component", id, "subtree", len(subtree))
	return nil
}

// SetStore routes a client-originated property write. When an on_update
// handler is registered for the property it runs asynchronously and its
// return value becomes the stored state (and is mirrored back, since it
// may differ from what the client sent). Without a handler the value is
// stored directly with no outbound echo.
func (s *Session) SetStore(ctx context.Context, componentID, property string, value any) error {
	c, ok := s.Component(componentID)
	if !ok {
		return NewSessionError(s.ID, "set_store", ErrComponentNotFound)
	}

	s.mu.Lock()
	handler, ok := s.storeHandlers[storeKey{componentID: componentID, property: property}]
	s.mu.Unlock()

	if !ok {
		c.setFromClient(property, value)
		return nil
	}

	s.tasks.Go("store-update "+componentID+"/"+property, func(ctx context.Context) {
		v, err := handler(ctx, c, value)
		if err != nil {
			s.logger.Error("store update handler failed",
				"component", componentID, "property", property, "error", err)
			return
		}
		c.Set(property, v)
	})
	return nil
}

// invokeRPC is the innermost RPC invoker, wrapped by any configured
// middleware.
func (s *Session) invokeRPC(ctx context.Context, info *RPCInfo, args []any) (any, error) {
	c, ok := s.Component(info.ComponentID)
	if !ok {
		return nil, NewSessionError(s.ID, "exec_rpc", ErrComponentNotFound)
	}
	return c.execRPC(ctx, info.Method, args)
}

// ExecRPC runs a component RPC and always answers the caller: the result
// message carries either the return value or an error payload under the
// caller's request id.
func (s *Session) ExecRPC(ctx context.Context, requestID, componentID, method string, args []any) {
	info := &RPCInfo{
		SessionID:   s.ID,
		ComponentID: componentID,
		Method:      method,
	}
	if c, ok := s.Component(componentID); ok {
		info.ComponentType = c.def.Type
	}

	result, err := s.invoke(ctx, info, args)
	if err != nil {
		code := protocol.RPCCodeFailed
		if errors.Is(err, ErrRPCNotFound) || errors.Is(err, ErrComponentNotFound) {
			code = protocol.RPCCodeNotFound
		}
		s.logger.Warn("rpc failed",
			"component", componentID, "method", method, "error", err)
		s.send(protocol.RPCResultMessage(requestID, protocol.ErrorPayload(&protocol.RPCError{
			Code:      code,
			Message:   err.Error(),
			Component: componentID,
			Method:    method,
		})))
		return
	}
	s.send(protocol.RPCResultMessage(requestID, result))
}

// CallService obtains a future for an asynchronous service method call.
// The session owns the background task executing the call, so session
// teardown cancels it without touching the service.
func (s *Session) CallService(serviceName, method string, args ...any) (*service.Future, error) {
	proxy, err := s.services.ProxyFor(serviceName, s.tasks)
	if err != nil {
		return nil, NewSessionError(s.ID, "call_service", err)
	}
	return proxy.Call(method, args...), nil
}

// appStateSnapshot returns every non-root component's full state, keyed
// by component id.
func (s *Session) appStateSnapshot() map[string]map[string]any {
	s.mu.Lock()
	components := make([]*Component, 0, len(s.components))
	for id, c := range s.components {
		if id == RootComponentID {
			continue
		}
		components = append(components, c)
	}
	s.mu.Unlock()

	snapshot := make(map[string]map[string]any, len(components))
	for _, c := range components {
		snapshot[c.id] = c.State()
	}
	return snapshot
}

// eventLoop drains the session event queue and schedules every handler
// registered for an event's name as an independent task. Handler tasks
// may interleave and complete out of order.
func (s *Session) eventLoop(ctx context.Context) {
	for {
		var ev any
		select {
		case <-ctx.Done():
			return
		case ev = <-s.events:
		}

		var name string
		var payload *ComponentEvent
		switch e := ev.(type) {
		case *ServerEvent:
			name = e.Name
		case *ComponentEvent:
			name = e.Name
			payload = e
		default:
			continue
		}

		s.mu.Lock()
		entries := append([]eventHandlerEntry(nil), s.eventHandlers[name]...)
		s.mu.Unlock()

		for _, entry := range entries {
			entry := entry
			s.tasks.Go("event "+name, func(ctx context.Context) {
				entry.fn(ctx, payload)
			})
		}
	}
}

// outboundLoop drains the outbound queue in FIFO order and writes each
// serialized message to the transport. A dead or missing transport never
// stops the loop: messages are discarded, logged once per connection,
// until a reattach replaces the conn.
func (s *Session) outboundLoop(ctx context.Context) {
	for {
		var msg *protocol.Message
		select {
		case <-ctx.Done():
			return
		case msg = <-s.outbound:
		}

		data, err := protocol.Encode(msg)
		if err != nil {
			s.logger.Error("message encode failed", "topic", msg.Topic.String(), "error", err)
			continue
		}

		s.connMu.Lock()
		conn := s.conn
		dead := s.connDead
		s.connMu.Unlock()

		if conn == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if !dead {
				s.logger.Warn("transport write failed, discarding until reattach", "error", err)
			}
			s.connMu.Lock()
			if s.conn == conn {
				s.connDead = true
			}
			s.connMu.Unlock()
			continue
		}
		if s.metrics != nil {
			s.metrics.messagesOut.Inc()
		}
	}
}

// attach binds a transport to the session, moves it to Active, resends
// the full application state, and publishes the connect event.
func (s *Session) attach(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connDead = false
	s.connMu.Unlock()

	s.state.Store(int32(StateActive))
	s.touch()

	s.send(protocol.AppStateMessage(s.appStateSnapshot()))
	s.queueEvent(&ServerEvent{Name: EventSessionConnect})
}

// detach marks the transport gone, if conn is still the current one, and
// publishes the disconnect event.
func (s *Session) detach(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn != conn {
		s.connMu.Unlock()
		return
	}
	s.conn = nil
	s.connMu.Unlock()

	if s.State() == StateDestroyed {
		return
	}
	s.state.Store(int32(StateDisconnected))
	s.touch()
	s.queueEvent(&ServerEvent{Name: EventSessionDisconnect})
	if s.onDetach != nil {
		s.onDetach(s)
	}
	s.logger.Info("session disconnected")
}

// destroy is the terminal transition: the whole component tree is torn
// down children-first, loops are cancelled, and the transport is closed.
func (s *Session) destroy(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateDestroyed)) &&
		!s.state.CompareAndSwap(int32(StateDisconnected), int32(StateDestroyed)) &&
		!s.state.CompareAndSwap(int32(StateNew), int32(StateDestroyed)) {
		return
	}

	s.mu.Lock()
	root := s.components[RootComponentID]
	if s.metrics != nil {
		s.metrics.components.Sub(float64(len(s.components) - 1))
	}
	s.mu.Unlock()

	var destroyTree func(*Component)
	destroyTree = func(c *Component) {
		for _, child := range c.children {
			destroyTree(child)
		}
		c.destroy(ctx)
	}
	if root != nil {
		destroyTree(root)
	}

	s.mu.Lock()
	s.components = map[string]*Component{}
	s.eventHandlers = map[string][]eventHandlerEntry{}
	s.storeHandlers = map[storeKey]StoreUpdateFunc{}
	s.mu.Unlock()

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}

	s.tasks.Close()
	s.logger.Info("session destroyed")
}
