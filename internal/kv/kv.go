// Package kv provides the non-volatile key-value stores the node persists
// its state in: a JSON file on local flash, a NATS JetStream bucket, or
// plain memory.
package kv

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kv: store closed")
	// ErrNotFinite is returned when a stored number is NaN or infinite.
	ErrNotFinite = errors.New("kv: value is not a finite number")
)

// Store is a flat key-value store.
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Close() error
}

// Float64Store stores float64 values as decimal text on top of a Store.
// It satisfies battery.Storage.
type Float64Store struct {
	store Store
}

// Float64 wraps s for float64 values.
func Float64(s Store) *Float64Store {
	return &Float64Store{store: s}
}

func (f *Float64Store) Write(key string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("writing %s: %w", key, ErrNotFinite)
	}
	return f.store.Put(key, []byte(strconv.FormatFloat(v, 'g', -1, 64)))
}

func (f *Float64Store) Read(key string) (float64, bool, error) {
	raw, ok, err := f.store.Get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing %s: %w", key, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("parsing %s: %q: %w", key, raw, ErrNotFinite)
	}
	return v, true, nil
}
