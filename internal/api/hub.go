package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/monitoring"
)

const (
	// clientQueue is the number of messages buffered per websocket client.
	clientQueue = 32
	writeWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is read-only
	},
}

// Message is one websocket frame. Exactly one of Event and Alert is set.
type Message struct {
	Type  string              `json:"type"`
	Event *dispatch.Event     `json:"event,omitempty"`
	Alert *dispatch.FallAlert `json:"alert,omitempty"`
}

// Message types.
const (
	TypeActivity = "activity"
	TypeFall     = "fall"
)

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

// Hub broadcasts activities and fall alerts to websocket clients. It
// implements dispatch.Observer and dispatch.Alerter. A client that cannot
// keep up is disconnected rather than slowing the dispatcher.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  monitoring.OrNop(logger),
		clients: make(map[*client]struct{}),
	}
}

// ActivityDetected implements dispatch.Observer.
func (h *Hub) ActivityDetected(_ context.Context, ev dispatch.Event) error {
	return h.broadcast(Message{Type: TypeActivity, Event: &ev})
}

// NotifyFall implements dispatch.Alerter.
func (h *Hub) NotifyFall(_ context.Context, alert dispatch.FallAlert) error {
	return h.broadcast(Message{Type: TypeFall, Alert: &alert})
}

func (h *Hub) broadcast(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client too slow, disconnecting", zap.String("remote", c.remote))
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams messages until the client goes
// away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, remote: conn.RemoteAddr().String(), send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("remote", c.remote))

	go h.writePump(c)

	// The feed is one-way; reads only detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
