// Package relay is the WebSocket front of the chat relay. It upgrades HTTP
// connections, runs one read goroutine per connection, walks each session
// through its lifecycle (unauthenticated, joined, closed), and hands parsed
// events to the message router.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/onemessenger/relay/internal/metrics"
	"github.com/onemessenger/relay/internal/presence"
	"github.com/onemessenger/relay/internal/ratelimit"
	"github.com/onemessenger/relay/internal/router"
)

// Config holds tunable parameters for the relay server.
type Config struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	MaxConnections    int           // hard cap on total connections
	WriteTimeout      time.Duration // timeout for WebSocket write operations
	RouteTimeout      time.Duration // per-event deadline for the routing pipeline
	HeartbeatInterval time.Duration // how often to ping clients
	HeartbeatTimeout  time.Duration // grace after a ping before eviction
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		MaxConnections:    100000,
		WriteTimeout:      10 * time.Second,
		RouteTimeout:      5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Subscriber receives cross-instance deliveries for locally joined handles.
// Deployments running a single instance leave it nil.
type Subscriber interface {
	SubscribeHandle(handle string, handler func(data []byte)) error
	UnsubscribeHandle(handle string) error
}

// Server owns the WebSocket listener and every live connection.
type Server struct {
	config  Config
	conns   *connManager
	router  *router.Router
	dir     presence.Directory
	limiter *ratelimit.Limiter
	bridge  Subscriber

	api        http.Handler // REST surface mounted under /api/
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time
}

// NewServer wires the relay server. The limiter and bridge may be nil; api
// may be nil when no REST surface is mounted.
func NewServer(config Config, rtr *router.Router, dir presence.Directory, limiter *ratelimit.Limiter, bridge Subscriber, api http.Handler) *Server {
	return &Server{
		config:  config,
		conns:   newConnManager(),
		router:  rtr,
		dir:     dir,
		limiter: limiter,
		bridge:  bridge,
		api:     api,
		done:    make(chan struct{}),
	}
}

// Start configures the HTTP server and begins accepting connections. It
// blocks on ListenAndServe until Shutdown is called.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	if s.api != nil {
		mux.Handle("/api/", s.api)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	s.startHeartbeat()

	log.Printf("relay: server listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader and starts the per-connection read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}
	c.touch()

	s.conns.add(c)
	metrics.ConnectionsActive.Inc()
	log.Printf("relay: new connection id=%s (total=%d)", c.ID, s.conns.count())

	go s.readLoop(c)
}

// readLoop reads frames from one connection until it dies. Control frames
// (ping, pong, close) are answered inline by the gobwas control handler; any
// frame counts as liveness for the heartbeat monitor.
func (s *Server) readLoop(c *Connection) {
	defer s.removeConnection(c)

	control := wsutil.ControlFrameHandler(c.Conn, ws.StateServerSide)
	reader := wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		hdr, err := reader.NextFrame()
		if err != nil {
			return
		}
		c.touch()

		if hdr.OpCode.IsControl() {
			if err := control(hdr, &reader); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(&reader)
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		s.handleFrame(c, data)
	}
}

// handleHealth reports connection count and uptime as JSON for load-balancer
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// removeConnection takes the connection out of the manager and tears down
// its session state. Racing removers (read error vs heartbeat) resolve via
// the manager's remove guard.
func (s *Server) removeConnection(c *Connection) {
	if !s.conns.remove(c.ID) {
		return
	}
	metrics.ConnectionsActive.Dec()

	s.teardown(c)
	log.Printf("relay: connection closed id=%s (total=%d)", c.ID, s.conns.count())
}

// teardown releases the session's presence entry and bridge subscription.
// The presence unregister is conditional on identity: if a newer session for
// the same handle has already taken the slot, this session's exit must not
// evict it, and its bridge subscription stays live too.
func (s *Server) teardown(c sessionConn) {
	handle := c.Handle()
	if handle == "" {
		return
	}
	metrics.SessionsJoined.Dec()

	s.dir.Unregister(handle, c)
	if _, ok := s.dir.Lookup(handle); ok {
		return
	}
	if s.bridge != nil {
		if err := s.bridge.UnsubscribeHandle(handle); err != nil {
			log.Printf("relay: bridge unsubscribe handle=%s: %v", handle, err)
		}
	}
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	return s.conns.count()
}

// Shutdown stops the listener, the heartbeat, and closes every connection.
func (s *Server) Shutdown() error {
	log.Println("relay: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("relay: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.all() {
		s.removeConnection(c)
	}

	log.Printf("relay: server stopped, all connections closed")
	return nil
}
