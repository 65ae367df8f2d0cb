package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// OutboundQueueSize is the buffer of the outbound message queue.
	// When the buffer is full, messages are dropped and counted; the
	// client's mirror catches up on the next reattach, which replays
	// full app state. Default: 1024.
	OutboundQueueSize int

	// EventQueueSize is the buffer of the session event queue.
	// Default: 256.
	EventQueueSize int

	// IdleTTL is how long a disconnected session survives before the
	// manager evicts and destroys it. Default: 30 minutes.
	IdleTTL time.Duration
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    1 << 20,
		OutboundQueueSize: 1024,
		EventQueueSize:    256,
		IdleTTL:           30 * time.Minute,
	}
}

// ServerConfig holds configuration for the Server.
type ServerConfig struct {
	// Address is the listen address. Default: "localhost:7755".
	Address string

	// Identity selects how a connection derives its stable session id.
	// Default: IdentityPath.
	Identity IdentityStrategy

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: allow all (the engine does no authentication itself).
	CheckOrigin func(r *http.Request) bool

	// SessionConfig configures the sessions this server creates.
	SessionConfig *SessionConfig

	// RPCMiddleware wraps component RPC execution, outermost first.
	RPCMiddleware []RPCMiddleware

	// ServiceCallTimeout bounds proxied service calls.
	// Default: service.DefaultCallTimeout.
	ServiceCallTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 10 seconds.
	ShutdownTimeout time.Duration

	// CleanupInterval is how often the session manager sweeps for idle
	// disconnected sessions. Default: 1 minute.
	CleanupInterval time.Duration

	// Registerer is the Prometheus registry for server metrics.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         "localhost:7755",
		Identity:        IdentityPath,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
		SessionConfig:   DefaultSessionConfig(),
		ShutdownTimeout: 10 * time.Second,
		CleanupInterval: time.Minute,
		Registerer:      prometheus.DefaultRegisterer,
	}
}

// withDefaults fills unset fields from the defaults.
func (c *ServerConfig) withDefaults() *ServerConfig {
	if c == nil {
		return DefaultServerConfig()
	}
	defaults := DefaultServerConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.Identity == "" {
		c.Identity = defaults.Identity
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.SessionConfig == nil {
		c.SessionConfig = defaults.SessionConfig
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaults.CleanupInterval
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
	sc := c.SessionConfig
	scDefaults := DefaultSessionConfig()
	if sc.WriteTimeout == 0 {
		sc.WriteTimeout = scDefaults.WriteTimeout
	}
	if sc.MaxMessageSize == 0 {
		sc.MaxMessageSize = scDefaults.MaxMessageSize
	}
	if sc.OutboundQueueSize == 0 {
		sc.OutboundQueueSize = scDefaults.OutboundQueueSize
	}
	if sc.EventQueueSize == 0 {
		sc.EventQueueSize = scDefaults.EventQueueSize
	}
	if sc.IdleTTL == 0 {
		sc.IdleTTL = scDefaults.IdleTTL
	}
	return c
}
