package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamjam/streamjam/pkg/pubsub"
	"github.com/streamjam/streamjam/pkg/service"
)

// Server ties the broker, the service registry, the component type
// registry, and the session manager behind one WebSocket endpoint. Every
// path upgrades: with path identity the URL itself names the session, so
// no route is reserved beyond the health and metrics endpoints.
type Server struct {
	config   *ServerConfig
	broker   *pubsub.Broker
	services *service.Registry
	types    *TypeRegistry
	sessions *SessionManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *serverMetrics

	httpServer *http.Server
}

// New creates a Server. The broker, the service registry, and the type
// registry are shared with the caller so services and component types can
// be registered before Serve.
func New(broker *pubsub.Broker, services *service.Registry, types *TypeRegistry, config *ServerConfig, logger *slog.Logger) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	metrics := newServerMetrics(config.Registerer)

	if config.ServiceCallTimeout > 0 {
		services.SetCallTimeout(config.ServiceCallTimeout)
	}

	sessions := NewSessionManager(broker, services, types, &SessionManagerOptions{
		Identity:        config.Identity,
		Config:          config.SessionConfig,
		RPCMiddleware:   config.RPCMiddleware,
		CleanupInterval: config.CleanupInterval,
		Metrics:         metrics,
		Logger:          logger,
	})

	srv := &Server{
		config:   config,
		broker:   broker,
		services: services,
		types:    types,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:  logger.With("component", "server"),
		metrics: metrics,
	}

	router := chi.NewRouter()
	router.Get("/healthz", srv.handleHealth)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/*", srv.handleConnection)

	srv.httpServer = &http.Server{
		Addr:    config.Address,
		Handler: router,
	}
	return srv
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Handler returns the HTTP handler, usable for embedding the engine in an
// existing mux or in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := s.sessions.Attach(conn, r)
	s.logger.Info("connection attached", "session", sess.ID, "remote", r.RemoteAddr)

	// ReadLoop blocks until the transport drops and detaches the session
	// on the way out.
	sess.ReadLoop(conn)
	conn.Close()
}

// Serve initializes every registered service, starts the idle-session
// sweep, and serves until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.services.InitAll(ctx); err != nil {
		return err
	}
	s.sessions.StartCleanup()

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting connections, destroys every session, and
// closes the service layer, bounded by the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.sessions.Close(ctx)
	s.services.Close()
	s.logger.Info("server stopped")
	return err
}

// ServeHTTP implements http.Handler so the Server can be mounted directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

var _ http.Handler = (*Server)(nil)
