// Package sensor reads battery current and chain pulses from the hardware
// bridge, a Modbus shunt monitor, a recorded history or a simulation.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the default size for the samples channel buffer.
const DefaultBufferSize = 100

// ErrNotConnected is returned by operations that need an open source.
var ErrNotConnected = errors.New("sensor: not connected")

// Kind tells what a Sample carries.
type Kind int

const (
	// KindBattery carries a bus voltage and shunt current for one battery.
	KindBattery Kind = iota
	// KindPulse is one chain counter pulse.
	KindPulse
)

func (k Kind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindPulse:
		return "pulse"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sample is one reading from a source.
type Sample struct {
	Timestamp time.Time
	Kind      Kind
	Battery   string  // KindBattery
	BusVolts  float64 // KindBattery, volts
	Amps      float64 // KindBattery, positive = charging
	Out       bool    // KindPulse, true = chain paid out
}

// Source is a stream of samples (real or simulated).
type Source interface {
	Connect() error
	Close() error
	Samples() <-chan Sample
	IsConnected() bool
}

var (
	_ Source = (*Serial)(nil)
	_ Source = (*Modbus)(nil)
	_ Source = (*Replay)(nil)
	_ Source = (*Mock)(nil)
)

// stream holds the connection state shared by every source.
type stream struct {
	samples   chan Sample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	lost      atomic.Bool // set by the producer while its device is gone
	done      chan struct{}
}

func (s *stream) init(bufSize int) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s.samples = make(chan Sample, bufSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
}

// Samples returns the channel for reading samples.
func (s *stream) Samples() <-chan Sample {
	return s.samples
}

// IsConnected returns whether the source is currently connected.
func (s *stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && !s.lost.Load()
}

// start marks the stream connected and runs produce in its own goroutine.
// The caller holds s.mu.
func (s *stream) start(produce func()) error {
	if s.connected {
		return fmt.Errorf("already connected")
	}
	s.connected = true
	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Panic in sample reader: %v", r)
			}
		}()
		produce()
	}()
	return nil
}

// stop cancels the producer, waits for it and closes the samples channel.
// The caller holds s.mu; release is run after the producer is told to stop
// and before waiting, so blocking reads can be interrupted.
func (s *stream) stop(release func()) {
	if !s.connected {
		return
	}
	s.cancel()
	if release != nil {
		release()
	}
	<-s.done
	s.connected = false
	close(s.samples)
}

// emit sends a sample without blocking. It returns false once the stream is
// stopping. Pulses are never dropped: they wait for room instead.
func (s *stream) emit(sample Sample) bool {
	if sample.Kind == KindPulse {
		return s.emitWait(sample)
	}
	select {
	case s.samples <- sample:
		return true
	case <-s.ctx.Done():
		return false
	default:
		// Channel full, log and skip
		log.Printf("Samples channel full, dropping %s sample", sample.Kind)
		return true
	}
}

// emitWait sends a sample, blocking until there is room or the stream stops.
func (s *stream) emitWait(sample Sample) bool {
	select {
	case s.samples <- sample:
		return true
	case <-s.ctx.Done():
		return false
	}
}
