package ws

import (
	"encoding/json"
	"log"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

// Bridge implements signalk.Publisher and broadcasts deltas to the hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) Publish(d signalk.Delta) {
	b.hub.Remember(d)
	msg, err := json.Marshal(d)
	if err != nil {
		log.Printf("Error marshaling delta: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}
