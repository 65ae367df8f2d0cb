// Package client is the Go SDK for a StreamJam server: it speaks the
// wire protocol over a WebSocket, tracks in-flight RPC calls, and routes
// server-pushed state to registered callbacks.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/streamjam/streamjam/pkg/protocol"
)

// Config controls how the client connects.
type Config struct {
	// URL is the ws:// or wss:// endpoint. With path-keyed sessions the
	// path selects which session to (re)attach to.
	URL string

	// HandshakeTimeout bounds the dial. Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteQueueSize is the outbound message buffer. Default: 16.
	WriteQueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteQueueSize:   16,
	}
}

// Call is an in-flight RPC. The server's answer resolves it.
type Call struct {
	done   chan struct{}
	result any
	err    error
}

// Await blocks until the server answers or ctx expires.
func (c *Call) Await(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the answer arrives.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

func (c *Call) resolve(result any, err error) {
	c.result = result
	c.err = err
	close(c.done)
}

// Client is a StreamJam connection handle. Callbacks must be registered
// before Connect; they run on the read loop, so they must not block.
type Client struct {
	cfg     Config
	conn    *websocket.Conn
	writeCh chan *protocol.Message

	mu        sync.Mutex
	connected bool
	closed    bool
	cancel    context.CancelFunc
	pending   map[string]*Call

	onAppState   func(state map[string]map[string]any)
	onStoreValue func(componentID, property string, value any)
	onError      func(error)
	onDisconnect func(error)
}

// New constructs a client from cfg. Start from DefaultConfig.
func New(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = 16
	}
	return &Client{
		cfg:     cfg,
		writeCh: make(chan *protocol.Message, cfg.WriteQueueSize),
		pending: map[string]*Call{},
	}
}

// OnAppState registers the callback for the full-state snapshot the
// server sends on every (re)connection.
func (c *Client) OnAppState(fn func(state map[string]map[string]any)) { c.onAppState = fn }

// OnStoreValue registers the callback for server-pushed property values.
func (c *Client) OnStoreValue(fn func(componentID, property string, value any)) {
	c.onStoreValue = fn
}

// OnError registers the callback for protocol and transport errors.
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// OnDisconnect registers the callback for connection loss. A nil error
// means a clean close.
func (c *Client) OnDisconnect(fn func(error)) { c.onDisconnect = fn }

// Connect dials the server and starts the read and write loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if c.cfg.URL == "" {
		return errors.New("client: empty URL")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.cfg.URL, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = runCancel
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(runCtx, conn)
	go c.writeLoop(runCtx, conn)
	return nil
}

// AddComponent asks the server to construct a component. Initial props
// seed the server-side state without triggering mirrors.
func (c *Client) AddComponent(ctx context.Context, id, parentID, typeName string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	return c.send(ctx, &protocol.Message{
		Topic:   protocol.NewTopic(protocol.TopicAddComponent),
		Payload: []any{id, parentID, typeName, props},
	})
}

// ExecRPC invokes a component method. The returned Call resolves when the
// server answers; a server-side failure resolves it with a *CallError.
func (c *Client) ExecRPC(ctx context.Context, componentID, method string, args ...any) (*Call, error) {
	if args == nil {
		args = []any{}
	}
	requestID := ulid.Make().String()
	call := &Call{done: make(chan struct{})}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[requestID] = call
	c.mu.Unlock()

	err := c.send(ctx, &protocol.Message{
		RequestID: requestID,
		Topic:     protocol.NewTopic(protocol.TopicExecRPC),
		Payload:   []any{componentID, method, args},
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return nil, err
	}
	return call, nil
}

// StoreSet writes one component property. The server stores it without
// echoing unless the property has a server-side update handler.
func (c *Client) StoreSet(ctx context.Context, componentID, property string, value any) error {
	return c.send(ctx, &protocol.Message{
		Topic:   protocol.NewTopic(protocol.TopicStoreSet),
		Payload: []any{componentID, property, value},
	})
}

// DestroyComponent tears down a component and its descendants.
func (c *Client) DestroyComponent(ctx context.Context, componentID string) error {
	return c.send(ctx, &protocol.Message{
		Topic:   protocol.NewTopic(protocol.TopicDestroyComponent),
		Payload: []any{componentID},
	})
}

// Close shuts the client down and fails every in-flight call.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.failPendingLocked(ErrClosed)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// failPendingLocked resolves every in-flight call with err. Callers hold
// c.mu.
func (c *Client) failPendingLocked(err error) {
	for id, call := range c.pending {
		call.resolve(nil, err)
		delete(c.pending, id)
	}
}

func (c *Client) send(ctx context.Context, msg *protocol.Message) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case c.writeCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(ctx, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.fireError(err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case msg := <-c.writeCh:
			data, err := protocol.Encode(msg)
			if err != nil {
				c.fireError(err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				c.fireError(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes one server message to its callback or pending call.
func (c *Client) dispatch(msg *protocol.Message) {
	switch msg.Topic.Head() {
	case protocol.TopicRPCResult:
		c.resolveCall(msg)

	case protocol.TopicStoreValue:
		if c.onStoreValue == nil {
			return
		}
		if len(msg.Topic) != 3 {
			c.fireError(fmt.Errorf("client: malformed store-value topic %q", msg.Topic.String()))
			return
		}
		c.onStoreValue(msg.Topic[1], msg.Topic[2], msg.Payload)

	case protocol.TopicAppState:
		if c.onAppState == nil {
			return
		}
		raw, ok := msg.Payload.(map[string]any)
		if !ok {
			c.fireError(fmt.Errorf("client: malformed app-state payload %T", msg.Payload))
			return
		}
		state := make(map[string]map[string]any, len(raw))
		for id, v := range raw {
			if m, ok := v.(map[string]any); ok {
				state[id] = m
			}
		}
		c.onAppState(state)
	}
}

func (c *Client) resolveCall(msg *protocol.Message) {
	c.mu.Lock()
	call, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if rpcErr := decodeRPCError(msg.Payload); rpcErr != nil {
		call.resolve(nil, &CallError{RPC: rpcErr})
		return
	}
	call.resolve(msg.Payload, nil)
}

// decodeRPCError recognizes the error envelope in an rpc-result payload.
func decodeRPCError(payload any) *protocol.RPCError {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	inner, ok := m["error"].(map[string]any)
	if !ok {
		return nil
	}
	e := &protocol.RPCError{}
	e.Code, _ = inner["code"].(string)
	e.Message, _ = inner["message"].(string)
	e.Component, _ = inner["component"].(string)
	e.Method, _ = inner["method"].(string)
	return e
}

func (c *Client) fireError(err error) {
	if c.onError != nil && err != nil {
		c.onError(err)
	}
}

func (c *Client) handleDisconnect(ctx context.Context, err error) {
	c.mu.Lock()
	c.connected = false
	c.failPendingLocked(ErrNotConnected)
	c.mu.Unlock()

	if isExpectedDisconnect(ctx, err) {
		err = nil
	}
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return true
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
