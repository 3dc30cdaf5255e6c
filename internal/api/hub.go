package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single websocket write
var writeWait = 10 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans market snapshots out to connected websocket clients
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates a hub that accepts connections from any origin
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     log,
		clients: make(map[*wsClient]bool),
	}
}

// Broadcast sends data to every client, dropping the ones that fail
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	var failed []*wsClient
	for client := range h.clients {
		if err := client.send(data); err != nil {
			h.log.Debug("websocket send failed", "error", err)
			failed = append(failed, client)
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range failed {
		delete(h.clients, client)
		client.conn.Close()
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the connection, sends it the current snapshot and keeps it
// registered until the client goes away
func (h *Hub) ServeWS(snapshot func(r *http.Request) ([]byte, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := &wsClient{conn: conn}

		// Send initial snapshot
		if data, err := snapshot(r); err != nil {
			h.log.Error("failed to build market snapshot", "error", err)
		} else if err := client.send(data); err != nil {
			conn.Close()
			return
		}

		h.mu.Lock()
		h.clients[client] = true
		h.mu.Unlock()

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, client)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}
