// Package node wires the sensor source, the amp-hour integrators, the chain
// counter and the telemetry outputs onto one event loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ihavn1/boat-bowsensors/internal/battery"
	"github.com/ihavn1/boat-bowsensors/internal/chain"
	"github.com/ihavn1/boat-bowsensors/internal/config"
	"github.com/ihavn1/boat-bowsensors/internal/eventloop"
	"github.com/ihavn1/boat-bowsensors/internal/kv"
	"github.com/ihavn1/boat-bowsensors/internal/sensor"
	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

// monitor is one battery: its integrator plus the last bus voltage seen.
type monitor struct {
	id        string
	integ     *battery.Integrator
	volts     float64
	haveVolts bool
}

// Node runs the sensor node.
type Node struct {
	cfg       *config.Config
	loop      *eventloop.Loop
	store     kv.Store
	source    sensor.Source
	publisher signalk.Publisher

	context  string // Signal K self context
	monitors []*monitor
	byID     map[string]*monitor
	chain    *chain.Counter
}

// BatteryKey returns the storage key holding a battery's accumulated Ah.
func BatteryKey(id string) string {
	return "battery/" + id + "/ah"
}

// New builds a node. vesselUUID identifies the vessel in published deltas;
// publisher may be nil when no output is wanted.
func New(cfg *config.Config, vesselUUID string, store kv.Store, source sensor.Source, publisher signalk.Publisher) *Node {
	if publisher == nil {
		publisher = signalk.Fanout(nil)
	}
	n := &Node{
		cfg:       cfg,
		loop:      eventloop.New(),
		store:     store,
		source:    source,
		publisher: publisher,
		context:   signalk.SelfContext(vesselUUID),
		byID:      make(map[string]*monitor, len(cfg.Batteries)),
		chain:     chain.NewCounter(cfg.Chain.MetersPerPulse),
	}

	storage := kv.Float64(store)
	for _, b := range cfg.Batteries {
		chargeEff, dischargeEff := b.Efficiencies()
		m := &monitor{
			id: b.ID,
			integ: battery.New(battery.Config{
				Key:                    BatteryKey(b.ID),
				InitialAh:              b.InitialAh,
				CapacityAh:             b.CapacityAh,
				MarkedCapacityAh:       b.MarkedCapacityAh,
				ChargeEfficiencyPct:    chargeEff,
				DischargeEfficiencyPct: dischargeEff,
				PersistInterval:        b.PersistInterval,
				PersistDeltaAh:         b.PersistDeltaAh,
			}, storage),
		}
		n.monitors = append(n.monitors, m)
		n.byID[b.ID] = m
	}

	n.loop.OnRepeat(cfg.IntegrationInterval, n.advance)
	n.loop.OnRepeat(cfg.PersistCheckInterval, n.persistCheck)
	n.loop.OnRepeat(cfg.OutputInterval, n.publishBatteries)
	n.loop.OnRepeat(cfg.Chain.ReadInterval, n.publishChain)
	return n
}

// Chain returns the anchor chain counter.
func (n *Node) Chain() *chain.Counter {
	return n.chain
}

// Run connects the source and runs the loop until ctx is cancelled. Dirty
// integrators are flushed before it returns.
func (n *Node) Run(ctx context.Context) error {
	if n.source != nil {
		if err := n.source.Connect(); err != nil {
			return fmt.Errorf("connecting sensor source: %w", err)
		}
		go n.pump(n.source.Samples())
	}

	log.Printf("Node running: %d batteries, context %s", len(n.monitors), n.context)
	err := n.loop.Run(ctx)

	n.flush(time.Now())
	if n.source != nil {
		if cerr := n.source.Close(); cerr != nil {
			log.Printf("Error closing sensor source: %v", cerr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pump moves samples onto the loop. Pulses bypass the loop and go straight
// to the atomic counter.
func (n *Node) pump(samples <-chan sensor.Sample) {
	for s := range samples {
		switch s.Kind {
		case sensor.KindPulse:
			n.chain.Pulse(s.Out)
		case sensor.KindBattery:
			if !n.loop.Post(func(time.Time) { n.recordSample(s) }) {
				return
			}
		}
	}
}

func (n *Node) recordSample(s sensor.Sample) {
	m, ok := n.byID[s.Battery]
	if !ok {
		return
	}
	m.integ.RecordCurrent(s.Amps)
	if s.BusVolts > 0 {
		m.volts = s.BusVolts
		m.haveVolts = true
	}
}

func (n *Node) advance(now time.Time) {
	for _, m := range n.monitors {
		m.integ.Advance(now)
	}
}

func (n *Node) persistCheck(now time.Time) {
	for _, m := range n.monitors {
		if _, err := m.integ.MaybePersist(now); err != nil {
			log.Printf("Persist failed, will retry: %v", err)
		}
	}
}

func (n *Node) flush(now time.Time) {
	for _, m := range n.monitors {
		if err := m.integ.Flush(now); err != nil {
			log.Printf("Final persist failed: %v", err)
		}
	}
}

func (n *Node) publishBatteries(now time.Time) {
	var values []signalk.Value
	for _, m := range n.monitors {
		values = append(values, m.values()...)
	}
	if len(values) == 0 {
		return
	}
	n.publisher.Publish(signalk.NewDelta(n.context, n.cfg.Hostname, now, values...))
}

func (n *Node) publishChain(now time.Time) {
	n.publisher.Publish(signalk.NewDelta(n.context, n.cfg.Hostname, now,
		signalk.Value{Path: n.cfg.Chain.Path, Value: n.chain.Meters()},
	))
}

// values returns the Signal K values for one battery.
func (m *monitor) values() []signalk.Value {
	path := func(leaf signalk.Leaf) string { return signalk.BatteryPath(m.id, leaf) }
	in := m.integ

	values := []signalk.Value{
		{Path: path(signalk.LeafCurrent), Value: in.CurrentAmps()},
		{Path: path(signalk.LeafRemainingAh), Value: in.AccumulatedAh()},
		{Path: path(signalk.LeafNominalAh), Value: in.MarkedCapacityAh()},
		{Path: path(signalk.LeafActualAh), Value: in.CurrentCapacityAh()},
		{Path: path(signalk.LeafChargeEfficiency), Value: in.ChargeEfficiency()},
		{Path: path(signalk.LeafDischargeEfficiency), Value: in.DischargeEfficiency()},
	}
	if m.haveVolts {
		values = append(values,
			signalk.Value{Path: path(signalk.LeafVoltage), Value: m.volts},
			signalk.Value{Path: path(signalk.LeafPower), Value: m.volts * in.CurrentAmps()},
		)
	}
	if soc, ok := in.StateOfCharge(); ok {
		values = append(values, signalk.Value{Path: path(signalk.LeafStateOfCharge), Value: soc})
	}
	return values
}
