// Package chain counts anchor chain windlass pulses.
package chain

import "sync/atomic"

// DefaultMetersPerPulse is one gypsy pocket of 10 mm chain.
const DefaultMetersPerPulse = 0.1

// Counter tracks chain out as a pulse count. Pulse may be called from any
// goroutine, typically the sensor reader, while the loop reads Meters.
type Counter struct {
	pulses         atomic.Int64
	metersPerPulse float64
}

func NewCounter(metersPerPulse float64) *Counter {
	if metersPerPulse <= 0 {
		metersPerPulse = DefaultMetersPerPulse
	}
	return &Counter{metersPerPulse: metersPerPulse}
}

// Pulse records one pulse. out is true while paying chain out; pulses in
// never take the count below zero.
func (c *Counter) Pulse(out bool) {
	if out {
		c.pulses.Add(1)
		return
	}
	for {
		n := c.pulses.Load()
		if n <= 0 {
			return
		}
		if c.pulses.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Reset sets the count to zero, e.g. with the anchor on deck.
func (c *Counter) Reset() {
	c.pulses.Store(0)
}

func (c *Counter) Count() int64 {
	return c.pulses.Load()
}

// Meters returns the chain out in meters.
func (c *Counter) Meters() float64 {
	return float64(c.pulses.Load()) * c.metersPerPulse
}

func (c *Counter) MetersPerPulse() float64 {
	return c.metersPerPulse
}
