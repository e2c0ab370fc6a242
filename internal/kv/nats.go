package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultNATSTimeout bounds each bucket operation.
const DefaultNATSTimeout = 2 * time.Second

// NATS stores values in a JetStream KeyValue bucket.
type NATS struct {
	kv      jetstream.KeyValue
	timeout time.Duration
}

// OpenNATS creates (or binds to) bucket on the given connection. Only the
// latest revision of each key is kept.
func OpenNATS(ctx context.Context, nc *nats.Conn, bucket string) (*NATS, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("nats jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "bow-sensors persisted state",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}

	return &NATS{kv: kv, timeout: DefaultNATSTimeout}, nil
}

func (n *NATS) Get(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("nats kv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (n *NATS) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("nats kv put %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (n *NATS) Close() error {
	return nil
}
