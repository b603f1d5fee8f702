// Package server exposes the relay over HTTP: a WebSocket on the root path
// plus small JSON endpoints for inspection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/leandrodaf/midiws/internal/device"
	"github.com/leandrodaf/midiws/internal/session"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Server defaults.
const (
	DefaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 64 * 1024
	shutdownTimeout     = 5 * time.Second
)

// ErrNotListening is returned by Serve before Listen succeeded.
var ErrNotListening = errors.New("server is not listening")

// Devices exposes the registry state served on /devices.
type Devices interface {
	Snapshot() device.Snapshot
}

// Server accepts WebSocket sessions and hands them to the coordinator.
type Server struct {
	addr         string
	writeTimeout time.Duration
	coordinator  *session.Coordinator
	devices      Devices
	log          contracts.Logger

	router   *mux.Router
	upgrader websocket.Upgrader
	http     *http.Server

	mu       sync.Mutex
	listener net.Listener
	clients  map[*wsClient]struct{}
	closing  bool // Set once closeSessions starts; no session may begin after.
	sessions sync.WaitGroup
}

// New creates a server bound to options.Host and options.Port once Listen is called.
func New(options *contracts.RelayOptions, coordinator *session.Coordinator, devices Devices) *Server {
	s := &Server{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		writeTimeout: options.WriteTimeout,
		coordinator:  coordinator,
		devices:      devices,
		log:          options.Logger.Named("server"),
		router:       mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser pages served from anywhere may drive the relay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	// Any other path upgrades, so clients can connect to "/" or "/ws" alike.
	s.router.PathPrefix("/").HandlerFunc(s.handleWebSocket)
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the listening socket. A bind failure is returned as is.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("listening", s.log.Field().String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done, then closes every session and
// waits for their handlers to return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeSessions()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not tracked by http.Server.
	s.closeSessions()
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.log.Info("server stopped")
	return err
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	s.closing = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	s.sessions.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.beginSession() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed",
			s.log.Field().String("remote", r.RemoteAddr),
			s.log.Field().Error("error", err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := newClient(session.NewID(), conn, s.writeTimeout)
	if !s.track(c) {
		c.shutdown()
		return
	}
	defer s.untrack(c)
	defer c.close()
	defer s.coordinator.OnDisconnect(c)

	s.log.Info("client connected",
		s.log.Field().String("client", c.ID()),
		s.log.Field().String("remote", r.RemoteAddr))

	if err := s.coordinator.OnConnect(c); err != nil {
		s.log.Warn("failed to start session",
			s.log.Field().String("client", c.ID()),
			s.log.Field().Error("error", err))
		return
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("client connection lost",
					s.log.Field().String("client", c.ID()),
					s.log.Field().Error("error", err))
			} else {
				s.log.Info("client disconnected", s.log.Field().String("client", c.ID()))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		s.coordinator.OnMessage(c, data)
	}
}

// beginSession counts a handler in, unless shutdown has started.
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// track makes c visible to closeSessions. It fails once shutdown has started,
// in which case the caller closes c itself.
func (s *Server) track(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
