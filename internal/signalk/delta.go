// Package signalk holds the Signal K message model the node publishes and
// the command messages it accepts.
package signalk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Delta is a Signal K delta message.
type Delta struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

type Update struct {
	Source    Source  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Values    []Value `json:"values"`
}

type Source struct {
	Label string `json:"label"`
}

type Value struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// NewDelta builds a single-update delta.
func NewDelta(context, label string, ts time.Time, values ...Value) Delta {
	return Delta{
		Context: context,
		Updates: []Update{{
			Source:    Source{Label: label},
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Values:    values,
		}},
	}
}

// Values returns every value across all updates.
func (d Delta) Values() []Value {
	var out []Value
	for _, u := range d.Updates {
		out = append(out, u.Values...)
	}
	return out
}

// Hello is sent to stream clients on connect.
type Hello struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Self      string   `json:"self"`
	Roles     []string `json:"roles"`
	Timestamp string   `json:"timestamp"`
}

// PutRequest asks the node to set a path.
type PutRequest struct {
	Context   string  `json:"context,omitempty"`
	RequestID string  `json:"requestId"`
	Put       PutBody `json:"put"`
}

type PutBody struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// ErrNoValue is returned when a put carries a null or missing value.
var ErrNoValue = errors.New("put has no value")

func (p PutBody) empty() bool {
	v := bytes.TrimSpace(p.Value)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// Float returns the put value as a number.
func (p PutBody) Float() (float64, error) {
	if p.empty() {
		return 0, fmt.Errorf("put %s: %w", p.Path, ErrNoValue)
	}
	var v float64
	if err := json.Unmarshal(p.Value, &v); err != nil {
		return 0, fmt.Errorf("put %s: expected a number: %w", p.Path, err)
	}
	return v, nil
}

// Bool returns the put value as a boolean.
func (p PutBody) Bool() (bool, error) {
	if p.empty() {
		return false, fmt.Errorf("put %s: %w", p.Path, ErrNoValue)
	}
	var v bool
	if err := json.Unmarshal(p.Value, &v); err != nil {
		return false, fmt.Errorf("put %s: expected a boolean: %w", p.Path, err)
	}
	return v, nil
}

// PutState is the outcome reported back for a put.
type PutState string

const (
	StateCompleted PutState = "COMPLETED"
	StateFailed    PutState = "FAILED"
)

// PutResponse answers a PutRequest.
type PutResponse struct {
	RequestID  string   `json:"requestId"`
	State      PutState `json:"state"`
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message,omitempty"`
}

// Publisher receives deltas for distribution.
type Publisher interface {
	Publish(d Delta)
}

// Fanout sends every delta to each of its publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(d Delta) {
	for _, p := range f {
		p.Publish(d)
	}
}

// CommandHandler applies a put and reports the result.
type CommandHandler interface {
	HandlePut(req PutRequest) PutResponse
}
