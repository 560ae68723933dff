// Package stream pushes engine snapshots to dashboard clients over
// websockets.
//
// # Protocol
//
// Every server message is a JSON Message. On connect the client receives
// the latest snapshot (if any); afterwards one "snapshot" message per
// engine change and a "ping" every keepalive interval. A client may send
// {"type":"ping"} and gets {"type":"pong"} back. Slow clients drop
// messages rather than block the hub.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypePing     = "ping"
	TypePong     = "pong"
)

const (
	// DefaultKeepalive is the interval between server pings.
	DefaultKeepalive = 30 * time.Second

	sendBuffer = 16
	writeWait  = 10 * time.Second
	maxMessage = 4096
)

// Message is the envelope for everything sent over the socket.
type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// client is one connected websocket.
type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub manages all connected clients.
type Hub struct {
	upgrader  websocket.Upgrader
	keepalive time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	last    json.RawMessage
	stopped bool
}

// NewHub creates a hub. A keepalive <= 0 uses DefaultKeepalive.
func NewHub(keepalive time.Duration, logger *slog.Logger) *Hub {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins; the API already
			// sends permissive CORS headers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		keepalive: keepalive,
		logger:    logger.With("component", "stream"),
		clients:   make(map[string]*client),
	}
}

// Run sends keepalive pings until ctx is done, then disconnects everyone.
// The hub refuses new clients after Run returns.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for id, c := range h.clients {
				delete(h.clients, id)
				c.close()
			}
			h.mu.Unlock()
			return
		case <-ticker.C:
			h.broadcast(Message{Type: TypePing, Timestamp: time.Now()})
		}
	}
}

// Publish marshals v once and fans it out as a snapshot message. The value
// is remembered for clients that connect later.
func (h *Hub) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	h.mu.Lock()
	h.last = data
	h.mu.Unlock()

	h.broadcast(Message{Type: TypeSnapshot, Timestamp: time.Now(), Data: data})
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client's send channel is full, skip this message
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		http.Error(w, "stream stopped", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, sendBuffer),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream stopped"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c.id] = c
	if h.last != nil {
		c.send <- Message{Type: TypeSnapshot, Timestamp: time.Now(), Data: h.last}
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "client_id", c.id, "remote", r.RemoteAddr, "total", total)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client disconnected", "client_id", c.id, "total", total)
}

// readPump handles client messages until the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case TypePing:
			h.mu.RLock()
			if h.clients[c.id] == c {
				select {
				case c.send <- Message{Type: TypePong, Timestamp: time.Now()}:
				default:
				}
			}
			h.mu.RUnlock()
		default:
			h.logger.Debug("ignoring client message", "client_id", c.id, "type", msg.Type)
		}
	}
}

// writePump is the only writer on the connection.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket write error", "client_id", c.id, "error", err)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}
