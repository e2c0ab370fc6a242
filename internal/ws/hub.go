package ws

import (
	"log"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

// Client represents a connected WebSocket client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket clients, broadcasts messages and remembers the last
// value published for every path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	last    map[string]signalk.Value
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		last:    make(map[string]signalk.Value),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client buffer full, skip
			log.Printf("client buffer full, dropping message")
		}
	}
}

// Remember records the values of d as the latest for their paths.
func (h *Hub) Remember(d signalk.Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range d.Values() {
		h.last[v.Path] = v
	}
}

// Snapshot returns the last known value of every path, sorted by path.
func (h *Hub) Snapshot() []signalk.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]signalk.Value, 0, len(h.last))
	for _, v := range h.last {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
