package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Info identifies the node in the hello message.
type Info struct {
	Name    string
	Version string
	Self    string // Signal K self context
}

// Handler serves the Signal K delta stream and routes puts to commands.
type Handler struct {
	hub      *Hub
	info     Info
	commands signalk.CommandHandler
	now      func() time.Time
}

// NewHandler returns a stream handler. commands may be nil, in which case
// every put is rejected.
func NewHandler(hub *Hub, info Info, commands signalk.CommandHandler) *Handler {
	return &Handler{hub: hub, info: info, commands: commands, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	// Queue hello and replay before registering so broadcasts come after.
	h.sendHello(client)
	h.sendSnapshot(client)

	h.hub.Register(client)
	go client.writePump()

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		if resp, ok := h.handleMessage(msg); ok {
			send(c, resp)
		}
	}
}

func (h *Handler) handleMessage(msg []byte) (signalk.PutResponse, bool) {
	req, isPut, err := ParseInbound(msg)
	if err != nil {
		log.Printf("Invalid message: %v", err)
		if isPut {
			return badRequest(req.RequestID, err), true
		}
		return signalk.PutResponse{}, false
	}
	if !isPut {
		return signalk.PutResponse{}, false
	}
	if h.commands == nil {
		return signalk.PutResponse{
			RequestID:  req.RequestID,
			State:      signalk.StateFailed,
			StatusCode: http.StatusMethodNotAllowed,
			Message:    "puts are not supported",
		}, true
	}
	return h.commands.HandlePut(req), true
}

func (h *Handler) sendHello(c *Client) {
	send(c, signalk.Hello{
		Name:      h.info.Name,
		Version:   h.info.Version,
		Self:      h.info.Self,
		Roles:     []string{"master", "main"},
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) sendSnapshot(c *Client) {
	values := h.hub.Snapshot()
	if len(values) == 0 {
		return
	}
	send(c, signalk.NewDelta(h.info.Self, h.info.Name, h.now(), values...))
}

func send(c *Client, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
