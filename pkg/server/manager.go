package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

// SessionManager owns every resident session, keyed by derived identity.
// It creates sessions on first connection, reattaches on reconnect, and
// evicts sessions that stay disconnected past their idle TTL.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	identity IdentityStrategy
	config   *SessionConfig
	mws      []RPCMiddleware

	broker   *pubsub.Broker
	services *service.Registry
	types    *TypeRegistry
	metrics  *serverMetrics
	logger   *slog.Logger

	cleanupInterval time.Duration
	done            chan struct{}
	cleanupDone     chan struct{}
	cleanupOnce     sync.Once

	// OnDetach is invoked when any session's transport drops. The
	// connection-tracking layer hooks in here.
	OnDetach func(*Session)
}

// SessionManagerOptions configures a SessionManager.
type SessionManagerOptions struct {
	Identity        IdentityStrategy
	Config          *SessionConfig
	RPCMiddleware   []RPCMiddleware
	CleanupInterval time.Duration
	Metrics         *serverMetrics
	Logger          *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(broker *pubsub.Broker, services *service.Registry, types *TypeRegistry, opts *SessionManagerOptions) *SessionManager {
	if opts == nil {
		opts = &SessionManagerOptions{}
	}
	identity := opts.Identity
	if identity == "" {
		identity = IdentityPath
	}
	config := opts.Config
	if config == nil {
		config = DefaultSessionConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	return &SessionManager{
		sessions:        map[string]*Session{},
		identity:        identity,
		config:          config,
		mws:             opts.RPCMiddleware,
		broker:          broker,
		services:        services,
		types:           types,
		metrics:         opts.Metrics,
		logger:          logger.With("component", "session_manager"),
		cleanupInterval: interval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
}

// Attach resolves the request's session identity and binds the connection
// to the existing session, or to a freshly created one. The session's
// current state is preserved across reattachment and resent in full.
func (m *SessionManager) Attach(conn *websocket.Conn, r *http.Request) *Session {
	id := m.identity.SessionID(r)

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id, m.broker, m.services, m.types, m.config, m.mws, m.metrics, m.logger)
		s.onDetach = m.sessionDetached
		m.sessions[id] = s
		if m.metrics != nil {
			m.metrics.sessionsActive.Inc()
			m.metrics.sessionsCreated.Inc()
		}
		m.logger.Info("session created", "session", id)
	} else {
		m.logger.Info("session reattached", "session", id, "components", s.ComponentCount())
	}
	m.mu.Unlock()

	s.attach(conn)
	return s
}

func (m *SessionManager) sessionDetached(s *Session) {
	if m.OnDetach != nil {
		m.OnDetach(s)
	}
}

// Get looks up a session by id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of resident sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Destroy tears a session down and removes it.
func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.destroy(ctx)
	if m.metrics != nil {
		m.metrics.sessionsActive.Dec()
		m.metrics.sessionsClosed.Inc()
	}
	return nil
}

// StartCleanup begins the idle-eviction sweep: disconnected sessions past
// their IdleTTL are destroyed.
func (m *SessionManager) StartCleanup() {
	go func() {
		defer close(m.cleanupDone)
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

func (m *SessionManager) evictIdle() {
	cutoff := time.Now().Add(-m.config.IdleTTL)

	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.State() == StateDisconnected && s.LastActive().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Info("evicting idle session", "session", id)
		if err := m.Destroy(context.Background(), id); err != nil {
			m.logger.Error("idle eviction failed", "session", id, "error", err)
		}
	}
}

// Close stops the sweep and destroys every session.
func (m *SessionManager) Close(ctx context.Context) {
	m.cleanupOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil {
			m.logger.Error("session teardown failed", "session", id, "error", err)
		}
	}
}
