package battery

import (
	"log"
	"math"
	"time"
)

// Config holds the per-battery integrator parameters.
type Config struct {
	Key                    string // storage key, one per battery
	InitialAh              float64
	CapacityAh             float64 // usable capacity; 0 disables the upper clamp
	MarkedCapacityAh       float64
	ChargeEfficiencyPct    float64
	DischargeEfficiencyPct float64
	PersistInterval        time.Duration
	PersistDeltaAh         float64
}

const (
	DefaultPersistInterval = 10 * time.Minute
	DefaultPersistDeltaAh  = 0.5
)

// DefaultConfig returns a config with 100% efficiencies and the default
// persistence policy.
func DefaultConfig(key string) Config {
	return Config{
		Key:                    key,
		ChargeEfficiencyPct:    100,
		DischargeEfficiencyPct: 100,
		PersistInterval:        DefaultPersistInterval,
		PersistDeltaAh:         DefaultPersistDeltaAh,
	}
}

// Integrator accumulates current readings into amp-hours.
//
// It is not safe for concurrent use. All calls are expected to come from a
// single goroutine (the node's event loop), so no locking is done here.
type Integrator struct {
	key     string
	storage Storage

	// State
	currentA    float64 // positive = charging, negative = discharging
	ah          float64
	lastAdvance time.Time

	chargeEffPct     float64
	dischargeEffPct  float64
	markedCapacityAh float64
	capacityAh       float64

	// Persistence
	dirty           bool
	lastPersistedAh float64
	lastPersist     time.Time
	persistInterval time.Duration
	persistDeltaAh  float64
}

// New creates an integrator starting at cfg.InitialAh. If storage already
// holds a value for cfg.Key it wins over the initial value.
func New(cfg Config, storage Storage) *Integrator {
	in := &Integrator{
		key:              cfg.Key,
		storage:          storage,
		chargeEffPct:     clampPct(cfg.ChargeEfficiencyPct),
		dischargeEffPct:  clampPct(cfg.DischargeEfficiencyPct),
		markedCapacityAh: nonNegative(cfg.MarkedCapacityAh),
		capacityAh:       nonNegative(cfg.CapacityAh),
		persistInterval:  cfg.PersistInterval,
		persistDeltaAh:   nonNegative(cfg.PersistDeltaAh),
	}
	if in.persistInterval <= 0 {
		in.persistInterval = DefaultPersistInterval
	}
	if in.capacityAh == 0 {
		log.Printf("Battery %s: usable capacity not set, Ah will not be clamped to an upper bound", cfg.Key)
	}

	in.ah = in.clamp(cfg.InitialAh)
	if storage != nil {
		stored, ok, err := storage.Read(cfg.Key)
		switch {
		case err != nil:
			log.Printf("Battery %s: reading persisted Ah: %v", cfg.Key, err)
		case ok:
			in.ah = in.clamp(stored)
			log.Printf("Battery %s: restored %.3f Ah", cfg.Key, in.ah)
		}
	}
	in.lastPersistedAh = in.ah
	return in
}

// RecordCurrent stores the latest current reading in amps. Readings between
// two Advance calls are coalesced; only the last one is integrated.
// Non-finite readings are dropped.
func (in *Integrator) RecordCurrent(amps float64) {
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return
	}
	in.currentA = amps
}

// Advance integrates the current over the time since the previous call.
// The first call only records the timestamp.
func (in *Integrator) Advance(now time.Time) {
	if in.lastAdvance.IsZero() {
		in.lastAdvance = now
		if in.lastPersist.IsZero() {
			in.lastPersist = now
		}
		return
	}

	hours := now.Sub(in.lastAdvance).Hours()
	before := in.ah

	var delta float64
	switch {
	case in.currentA > 0:
		delta = in.currentA * hours * in.chargeEffPct / 100
	case in.currentA < 0:
		delta = in.currentA * hours * in.dischargeEffPct / 100
	}

	in.ah = in.clamp(in.ah + delta)
	if in.ah != before {
		in.dirty = true
	}
	in.lastAdvance = now
}

// SetAccumulatedAh overwrites the accumulated charge, e.g. from a reset
// command. The value is clamped; non-finite values are ignored.
func (in *Integrator) SetAccumulatedAh(ah float64) {
	if math.IsNaN(ah) || math.IsInf(ah, 0) {
		return
	}
	in.setAh(in.clamp(ah))
}

// SetChargeEfficiency sets the efficiency applied to positive current, clamped to [0,100].
func (in *Integrator) SetChargeEfficiency(pct float64) {
	in.chargeEffPct = clampPct(pct)
}

// SetDischargeEfficiency sets the efficiency applied to negative current, clamped to [0,100].
func (in *Integrator) SetDischargeEfficiency(pct float64) {
	in.dischargeEffPct = clampPct(pct)
}

// SetMarkedCapacityAh sets the nameplate capacity. It does not affect clamping.
func (in *Integrator) SetMarkedCapacityAh(ah float64) {
	in.markedCapacityAh = nonNegative(ah)
}

// SetCurrentCapacityAh sets the usable capacity and re-clamps the
// accumulated charge right away.
func (in *Integrator) SetCurrentCapacityAh(ah float64) {
	in.capacityAh = nonNegative(ah)
	in.setAh(in.clamp(in.ah))
}

func (in *Integrator) setAh(ah float64) {
	if ah != in.ah {
		in.ah = ah
		in.dirty = true
	}
}

// clamp keeps ah in [0, capacity], or only >= 0 when no capacity is set.
// NaN and infinite values collapse to 0.
func (in *Integrator) clamp(ah float64) float64 {
	if math.IsNaN(ah) || math.IsInf(ah, 0) || ah < 0 {
		return 0
	}
	if in.capacityAh > 0 && ah > in.capacityAh {
		return in.capacityAh
	}
	return ah
}

func (in *Integrator) Key() string { return in.key }
func (in *Integrator) AccumulatedAh() float64 { return in.ah }
func (in *Integrator) CurrentAmps() float64 { return in.currentA }
func (in *Integrator) ChargeEfficiency() float64 { return in.chargeEffPct }
func (in *Integrator) DischargeEfficiency() float64 { return in.dischargeEffPct }
func (in *Integrator) MarkedCapacityAh() float64 { return in.markedCapacityAh }
func (in *Integrator) CurrentCapacityAh() float64 { return in.capacityAh }
func (in *Integrator) Dirty() bool { return in.dirty }

// StateOfCharge returns accumulated Ah as a ratio of usable capacity (0..1).
// The second result is false when no capacity is configured.
func (in *Integrator) StateOfCharge() (float64, bool) {
	if in.capacityAh <= 0 {
		return 0, false
	}
	return in.ah / in.capacityAh, true
}

func clampPct(pct float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
