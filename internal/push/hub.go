// Package push fans live session snapshots out to WebSocket subscribers.
package push

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"opsdec/internal/models"
)

// Close codes sent before dropping an unauthenticated connection.
const (
	CloseNoToken  = 4001
	CloseBadToken = 4003
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 8
)

// TokenVerifier validates an access token string. Satisfied by
// auth.Service.VerifyAccess via a small adapter in the caller.
type TokenVerifier func(token string) error

type frame struct {
	Type string                 `json:"type"`
	Data []models.ActiveSession `json:"data"`
}

type Hub struct {
	verify   TokenVerifier
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(verify TokenVerifier) *Hub {
	return &Hub{
		verify: verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Token auth makes the connection safe cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP lets the hub mount directly on a route.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades the connection and authenticates via the token query
// parameter. Auth failures are reported with a close frame so browser
// clients can distinguish them from network errors.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		closeWith(conn, CloseNoToken, "token required")
		return
	}
	if err := h.verify(token); err != nil {
		closeWith(conn, CloseBadToken, "invalid token")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast sends one session.update frame to every connected client. A
// client whose buffer is full misses this frame rather than stalling the
// engine; the next snapshot catches it up.
func (h *Hub) Broadcast(sessions []models.ActiveSession) {
	if sessions == nil {
		sessions = []models.ActiveSession{}
	}
	data, err := json.Marshal(frame{Type: "session.update", Data: sessions})
	if err != nil {
		log.Printf("push: marshaling snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames so pongs and close frames are processed.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
