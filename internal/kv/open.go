package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Options selects and configures a store.
type Options struct {
	Driver string
	Path   string // file driver
	Bucket string // nats driver
}

// Open returns the store named by opts.Driver. nc is only used by the nats
// driver and may be nil otherwise.
func Open(ctx context.Context, opts Options, nc *nats.Conn) (Store, error) {
	switch opts.Driver {
	case DriverFile, "":
		return OpenFile(opts.Path)
	case DriverNATS:
		if nc == nil {
			return nil, errors.New("nats storage requires a nats connection")
		}
		return OpenNATS(ctx, nc, opts.Bucket)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
