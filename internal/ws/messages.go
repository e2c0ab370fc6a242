package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

// Inbound is any message a stream client may send. Only puts are acted on;
// subscribe and unsubscribe requests are accepted and ignored since every
// client receives every delta.
type Inbound struct {
	Context     string            `json:"context,omitempty"`
	RequestID   string            `json:"requestId,omitempty"`
	Put         *signalk.PutBody  `json:"put,omitempty"`
	Subscribe   []json.RawMessage `json:"subscribe,omitempty"`
	Unsubscribe []json.RawMessage `json:"unsubscribe,omitempty"`
}

var errNoPath = errors.New("put without path")

// ParseInbound decodes a client message. It returns ok=false for messages
// that are not puts.
func ParseInbound(msg []byte) (signalk.PutRequest, bool, error) {
	var in Inbound
	if err := json.Unmarshal(msg, &in); err != nil {
		return signalk.PutRequest{}, false, err
	}
	if in.Put == nil {
		return signalk.PutRequest{}, false, nil
	}
	if in.Put.Path == "" {
		return signalk.PutRequest{RequestID: in.RequestID}, true, errNoPath
	}
	return signalk.PutRequest{
		Context:   in.Context,
		RequestID: in.RequestID,
		Put:       *in.Put,
	}, true, nil
}

// Failed builds a FAILED response for a request that could not be handled.
func Failed(requestID string, status int, err error) signalk.PutResponse {
	return signalk.PutResponse{
		RequestID:  requestID,
		State:      signalk.StateFailed,
		StatusCode: status,
		Message:    err.Error(),
	}
}

func badRequest(requestID string, err error) signalk.PutResponse {
	return Failed(requestID, http.StatusBadRequest, err)
}
