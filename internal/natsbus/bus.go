// Package natsbus publishes Signal K deltas to NATS and accepts puts from it.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "signalk"

// Connect dials NATS with reconnect settings suited to a node on a flaky
// boat network.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1), // reconnect forever
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// Bus implements signalk.Publisher on top of a NATS connection.
type Bus struct {
	nc     *nats.Conn
	prefix string
}

func New(nc *nats.Conn, prefix string) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{nc: nc, prefix: prefix}
}

// DeltaSubject returns the subject a value on path is published to:
// <prefix>.delta.<first path segment>.
func DeltaSubject(prefix, path string) string {
	root, _, _ := strings.Cut(path, ".")
	return prefix + ".delta." + root
}

// PutSubject returns the wildcard subject commands are received on.
func PutSubject(prefix string) string {
	return prefix + ".put.>"
}

// Publish splits d by subject and publishes each part. Errors are logged;
// core NATS buffers while reconnecting.
func (b *Bus) Publish(d signalk.Delta) {
	for subject, part := range splitBySubject(b.prefix, d) {
		data, err := json.Marshal(part)
		if err != nil {
			log.Printf("Error marshaling delta for %s: %v", subject, err)
			continue
		}
		if err := b.nc.Publish(subject, data); err != nil {
			log.Printf("NATS publish %s: %v", subject, err)
		}
	}
}

func splitBySubject(prefix string, d signalk.Delta) map[string]signalk.Delta {
	out := make(map[string]signalk.Delta)
	for _, u := range d.Updates {
		grouped := make(map[string][]signalk.Value)
		var order []string
		for _, v := range u.Values {
			s := DeltaSubject(prefix, v.Path)
			if _, seen := grouped[s]; !seen {
				order = append(order, s)
			}
			grouped[s] = append(grouped[s], v)
		}
		for _, s := range order {
			part := out[s]
			part.Context = d.Context
			part.Updates = append(part.Updates, signalk.Update{
				Source:    u.Source,
				Timestamp: u.Timestamp,
				Values:    grouped[s],
			})
			out[s] = part
		}
	}
	return out
}

// ServeCommands subscribes to put requests and answers them through
// handler until ctx is cancelled. Requests carrying a reply subject get the
// PutResponse as reply.
func (b *Bus) ServeCommands(ctx context.Context, handler signalk.CommandHandler) error {
	sub, err := b.nc.Subscribe(PutSubject(b.prefix), func(m *nats.Msg) {
		resp := handleCommand(m.Data, handler)
		if m.Reply == "" {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling put response: %v", err)
			return
		}
		if err := m.Respond(data); err != nil {
			log.Printf("NATS respond: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", PutSubject(b.prefix), err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Printf("NATS unsubscribe: %v", err)
		}
	}()
	return nil
}

func handleCommand(data []byte, handler signalk.CommandHandler) signalk.PutResponse {
	var req signalk.PutRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failed("", fmt.Errorf("invalid put: %w", err))
	}
	if req.Put.Path == "" {
		return failed(req.RequestID, errors.New("put without path"))
	}
	return handler.HandlePut(req)
}

func failed(requestID string, err error) signalk.PutResponse {
	return signalk.PutResponse{
		RequestID:  requestID,
		State:      signalk.StateFailed,
		StatusCode: http.StatusBadRequest,
		Message:    err.Error(),
	}
}

func (b *Bus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
