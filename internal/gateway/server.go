// Package gateway is the external WebSocket fan-out. It is deliberately
// dumb: authenticate, enforce ACLs, forward bus channels to clients with
// per-connection sequence numbers, throttle, and nothing else.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-corev1/internal/bus"
)

// Config tunes the gateway surface.
type Config struct {
	Addr             string        // listen address, e.g. ":8081"
	MaxChannels      int           // per connection, default 50
	MaxWildcards     int           // per connection, default 5
	ClientRatePerSec int           // outbound data messages, default 1000
	OutboundBuffer   int           // per-connection queue, default 1024
	IdleTimeout      time.Duration // close idle connections, default 60s
	Tokens           map[string]string // bearer token → role
}

func (c *Config) fill() {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = 50
	}
	if c.MaxWildcards <= 0 {
		c.MaxWildcards = 5
	}
	if c.ClientRatePerSec <= 0 {
		c.ClientRatePerSec = 1000
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 1024
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server owns the HTTP listener and the live connection set.
type Server struct {
	cfg    Config
	broker *bus.Broker
	log    *slog.Logger

	// Optional metric hooks, set before Run.
	OnConnCount func(n int)
	OnDataDrop  func()

	upgrader websocket.Upgrader
	http     *http.Server

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewServer creates a gateway over the given bus.
func NewServer(cfg Config, broker *bus.Broker, log *slog.Logger) *Server {
	cfg.fill()
	s := &Server{
		cfg:    cfg,
		broker: broker,
		log:    log.With("component", "gateway"),
		conns:  make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the dashboard origin; access
			// control happens via bearer tokens, not Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutCtx)
		s.mu.Lock()
		for c := range s.conns {
			go c.close(websocket.CloseGoingAway, "shutdown")
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	role, ok := s.authenticate(r)
	if !ok {
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		ws.SetWriteDeadline(time.Now().Add(time.Second))
		ws.WriteMessage(websocket.CloseMessage, msg)
		ws.Close()
		s.log.Warn("rejected connection", "remote", r.RemoteAddr)
		return
	}

	c := newConn(s, ws, role)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	if s.OnConnCount != nil {
		s.OnConnCount(n)
	}
	go c.run()
}

// authenticate resolves the bearer token (header or ?token=) to a role.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return "", false
	}
	role, ok := s.cfg.Tokens[token]
	return role, ok
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.mu.Unlock()
	if s.OnConnCount != nil {
		s.OnConnCount(n)
	}
}

// Connections returns the live connection count.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
