package ws

import (
	"encoding/json"
	"log"
	"net/http"
)

// StreamPath is where the delta stream handler is mounted.
const StreamPath = "/signalk/v1/stream"

// SignalKVersion is the protocol version the stream follows.
const SignalKVersion = "1.7.0"

type discoveryEndpoint struct {
	Version  string `json:"version"`
	SignalKW string `json:"signalk-ws"`
}

type discoveryServer struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type discoveryDoc struct {
	Endpoints map[string]discoveryEndpoint `json:"endpoints"`
	Server    discoveryServer              `json:"server"`
}

// Discovery serves the /signalk document that points clients at the stream.
func Discovery(info Info) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := discoveryDoc{
			Endpoints: map[string]discoveryEndpoint{
				"v1": {
					Version:  SignalKVersion,
					SignalKW: "ws://" + r.Host + StreamPath,
				},
			},
			Server: discoveryServer{ID: info.Name, Version: info.Version},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			log.Printf("Error writing discovery document: %v", err)
		}
	})
}
