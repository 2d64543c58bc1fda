// Package server exposes the operational HTTP surface: a WebSocket stream
// mirroring pipeline events and a small JSON API over the tool registry and
// container fleet.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/pipeline"
	"github.com/crucible-sec/crucible/registry"
)

// Server serves the event stream and JSON API. Create with New, then Start.
type Server struct {
	cfg      config.ServerConfig
	bus      *pipeline.Bus
	router   *registry.Router
	ops      *pipeline.Store
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*client]bool
}

// New creates the server and subscribes its event mirror to the bus.
func New(cfg config.ServerConfig, bus *pipeline.Bus, router *registry.Router, ops *pipeline.Store, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     bus,
		router:  router,
		ops:     ops,
		clients: make(map[*client]bool),
		log:     log.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	bus.SubscribeAll(func(ctx context.Context, ev pipeline.Event) error {
		s.broadcast(ev)
		return nil
	})
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// Routes builds the HTTP handler. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/containers", s.handleContainers)
	mux.HandleFunc("GET /api/operations/{id}/pipeline", s.handleOperationPipeline)
	return mux
}

// Start begins listening. Non-blocking; errors after startup are logged.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Routes(),
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("HTTP server failed", "error", err)
		}
	}()

	s.log.Infow("Server listening", "port", s.cfg.Port)
	return nil
}

// Stop shuts the listener down and disconnects all event subscribers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// handleEvents upgrades the connection and registers it for the event
// mirror.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan interface{}, sendBufferSize),
		log:  s.log,
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go c.writePump(s.unregister)
	go c.readPump(s.unregister)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// broadcast fans one event out to every subscriber, dropping clients whose
// buffers are full rather than blocking the bus.
func (s *Server) broadcast(ev pipeline.Event) {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- ev:
		default:
			// Channel full - skip
		}
	}
}
