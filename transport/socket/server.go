// Package socket adapts the event processor to WebSocket connections.
//
// Each connection is assigned a session id and runs three goroutines: a
// reader decoding frames, an event loop processing events one at a time in
// arrival order, and a writer draining the connection's outbound queue.
// Updates produced by uploads reach the connection through Server.Deliver.
package socket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/processor"
)

// Event types emitted by the socket server.
const (
	EventConnect    observability.EventType = "socket.connect"
	EventDisconnect observability.EventType = "socket.disconnect"
	EventFrame      observability.EventType = "socket.frame"
	EventError      observability.EventType = "socket.error"
)

// EventProcessor processes events received on a connection.
type EventProcessor interface {
	Process(ctx context.Context, ev protocol.Event, client processor.Client, emit processor.Emitter) error
}

// Option configures a Server.
type Option func(*Server)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Server) { s.events = observability.NewScope(o, "socket.Server") }
}

// Server accepts WebSocket connections and tracks them by session id.
type Server struct {
	cfg       Config
	processor EventProcessor
	upgrader  websocket.Upgrader
	events    observability.Scope
	metrics   *Metrics

	conns   map[string]*conn
	connsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a Server dispatching events to p.
func NewServer(cfg *Config, p EventProcessor, opts ...Option) *Server {
	c := DefaultConfig()
	c.Merge(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       c,
		processor: p,
		events:    observability.NewScope(nil, "socket.Server"),
		metrics:   &Metrics{},
		conns:     make(map[string]*conn),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RecordError(1)
		s.events.Emit(r.Context(), EventError, observability.LevelWarning, map[string]any{
			"stage": "upgrade",
			"error": err.Error(),
		})
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		ws.Close()
		return
	}

	c := newConn(s, ws, processor.Client{
		SID:     id.String(),
		IP:      clientIP(r),
		Headers: headers(r.Header),
	})

	s.wg.Add(1)
	defer s.wg.Done()

	s.register(c)
	defer s.unregister(c)

	c.run()
}

func (s *Server) register(c *conn) {
	s.connsMu.Lock()
	s.conns[c.client.SID] = c
	s.connsMu.Unlock()

	s.metrics.RecordConnection(1)
	s.events.Emit(s.ctx, EventConnect, observability.LevelInfo, map[string]any{
		"sid": c.client.SID,
		"ip":  c.client.IP,
	})
}

func (s *Server) unregister(c *conn) {
	s.connsMu.Lock()
	delete(s.conns, c.client.SID)
	s.connsMu.Unlock()

	s.metrics.RecordConnection(-1)
	s.events.Emit(s.ctx, EventDisconnect, observability.LevelInfo, map[string]any{
		"sid": c.client.SID,
	})
}

// Deliver queues an update on the connection with the given session id.
func (s *Server) Deliver(ctx context.Context, sid string, upd protocol.StateUpdate) error {
	s.connsMu.RLock()
	c, ok := s.conns[sid]
	s.connsMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, sid)
	}
	return c.sendUpdate(ctx, upd)
}

// Connected reports whether a connection with the given session id is open.
func (s *Server) Connected(sid string) bool {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	_, ok := s.conns[sid]
	return ok
}

// Sessions returns the session ids of open connections.
func (s *Server) Sessions() []string {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	sids := make([]string, 0, len(s.conns))
	for sid := range s.conns {
		sids = append(sids, sid)
	}
	slices.Sort(sids)
	return sids
}

// Metrics returns a snapshot of the server counters.
func (s *Server) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Shutdown closes every connection and waits for their goroutines, or for
// ctx to end. In-flight events finish processing.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("socket shutdown: %w", ctx.Err())
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
