package sensor

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// MockConfig contains simulated source parameters.
type MockConfig struct {
	Batteries     []string
	ChargeAmps    float64
	DischargeAmps float64
	Period        time.Duration // one charge half plus one discharge half
	SampleRate    time.Duration
	NoiseLevel    float64       // amps, uniform
	PulseInterval time.Duration // 0 = no chain pulses
	Volts         float64       // nominal bus voltage
}

// Mock simulates batteries cycling between charging and discharging, and
// optionally a windlass paying out chain.
type Mock struct {
	stream

	cfg   MockConfig
	rng   *rand.Rand
	began time.Time
	now   func() time.Time
}

// NewMock creates a mocked source.
func NewMock(cfg MockConfig) *Mock {
	if len(cfg.Batteries) == 0 {
		cfg.Batteries = []string{"house"}
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Minute
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 200 * time.Millisecond
	}
	if cfg.Volts == 0 {
		cfg.Volts = 12.8
	}

	m := &Mock{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	m.init(DefaultBufferSize)
	return m
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.began = m.now()
	return m.start(m.generate)
}

// Close stops the mocked source.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stop(nil)
	return nil
}

func (m *Mock) generate() {
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	var pulses <-chan time.Time
	if m.cfg.PulseInterval > 0 {
		pt := time.NewTicker(m.cfg.PulseInterval)
		defer pt.Stop()
		pulses = pt.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range m.batterySamples(now) {
				if !m.emit(s) {
					return
				}
			}
		case now := <-pulses:
			if !m.emit(Sample{Timestamp: now, Kind: KindPulse, Out: true}) {
				return
			}
		}
	}
}

// batterySamples returns one sample per battery for time now.
func (m *Mock) batterySamples(now time.Time) []Sample {
	amps := m.currentAt(now.Sub(m.began))
	out := make([]Sample, 0, len(m.cfg.Batteries))
	for _, id := range m.cfg.Batteries {
		a := amps
		if m.cfg.NoiseLevel > 0 {
			a += (m.rng.Float64()*2 - 1) * m.cfg.NoiseLevel
		}
		out = append(out, Sample{
			Timestamp: now,
			Kind:      KindBattery,
			Battery:   id,
			BusVolts:  m.cfg.Volts + a*0.01,
			Amps:      a,
		})
	}
	return out
}

// currentAt is the noiseless current at elapsed: charging for the first
// half of every period and discharging for the second.
func (m *Mock) currentAt(elapsed time.Duration) float64 {
	phase := math.Mod(elapsed.Seconds(), m.cfg.Period.Seconds()) / m.cfg.Period.Seconds()
	if phase < 0.5 {
		return m.cfg.ChargeAmps
	}
	return -m.cfg.DischargeAmps
}
