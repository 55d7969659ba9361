// Package live keeps the WebSocket connections of running exam sessions and
// delivers server pushes to them.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pavelanni/proctor/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 256
	// Video chunks arrive base64 encoded inside JSON.
	maxMessageSize = 32 << 20
)

var (
	// ErrNoSubscribers is returned when a session has no open connection.
	ErrNoSubscribers = errors.New("no live connection for session")
	// ErrSendBufferFull is returned when every connection of a session is
	// too far behind to accept another message.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handler receives the lifecycle and inbound text messages of every
// connection. Messages of a connection are handled one at a time in arrival
// order.
type Handler interface {
	// Connected runs after registration and before the first read.
	Connected(ctx context.Context, c *Client)
	Handle(ctx context.Context, c *Client, raw []byte)
	// Disconnected runs once the connection is gone.
	Disconnected(ctx context.Context, c *Client)
}

// Hub tracks connections by session id.
type Hub struct {
	upgrader websocket.Upgrader
	handler  Handler
	origins  map[string]bool

	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins accepts browser connections from these origins
// (scheme://host[:port]) besides the server's own host.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Hub) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				h.origins[strings.ToLower(o)] = true
			}
		}
	}
}

// NewHub creates a hub that hands every connection to h.
func NewHub(h Handler, opts ...Option) *Hub {
	hub := &Hub{
		handler:  h,
		origins:  make(map[string]bool),
		sessions: make(map[string]map[*Client]struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.checkOrigin,
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-host origins and the configured allowed origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return h.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID, examID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	c := &Client{
		conn:      conn,
		SessionID: sessionID,
		ExamID:    examID,
		send:      make(chan any, sendBufferSize),
		done:      make(chan struct{}),
	}
	ctx := context.WithoutCancel(r.Context())
	h.register(c)
	defer func() {
		h.unregister(c)
		h.handler.Disconnected(ctx, c)
		slog.Info("websocket client disconnected", "session_id", sessionID)
	}()

	slog.Info("websocket client connected", "session_id", sessionID, "exam_id", examID)
	go c.writePump()
	h.handler.Connected(ctx, c)
	c.readPump(ctx, h.handler.Handle)
}

// PushToSession queues msg on every connection of the session.
func (h *Hub) PushToSession(sessionID string, msg any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.sessions[sessionID]
	if len(clients) == 0 {
		return fmt.Errorf("push to %s: %w", sessionID, ErrNoSubscribers)
	}
	delivered := 0
	for c := range clients {
		if c.Send(msg) {
			delivered++
		}
	}
	if delivered == 0 {
		return fmt.Errorf("push to %s: %w", sessionID, ErrSendBufferFull)
	}
	return nil
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// CloseAll closes every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.sessions {
		for c := range clients {
			c.Close()
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.sessions[c.SessionID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.sessions[c.SessionID] = clients
	}
	clients[c] = struct{}{}
	metrics.LiveConnections.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	clients := h.sessions[c.SessionID]
	if _, ok := clients[c]; ok {
		delete(clients, c)
		metrics.LiveConnections.Dec()
	}
	if len(clients) == 0 {
		delete(h.sessions, c.SessionID)
	}
	h.mu.Unlock()
	c.Close()
}
