package battery

import (
	"fmt"
	"math"
	"time"
)

// Storage is the durable store for accumulated Ah, one key per battery.
type Storage interface {
	Write(key string, ah float64) error
	Read(key string) (ah float64, ok bool, err error)
}

// MaybePersist writes the accumulated Ah when it is dirty and either the
// persist interval has elapsed or the change since the last write reaches
// the delta threshold. It reports whether a write happened.
//
// A failed write leaves the integrator dirty so the next check retries with
// whatever value is current by then.
func (in *Integrator) MaybePersist(now time.Time) (bool, error) {
	if in.lastPersist.IsZero() {
		// The interval window starts with the first check.
		in.lastPersist = now
	}
	if !in.dirty {
		return false, nil
	}

	intervalDue := now.Sub(in.lastPersist) >= in.persistInterval
	deltaDue := math.Abs(in.ah-in.lastPersistedAh) >= in.persistDeltaAh
	if !intervalDue && !deltaDue {
		return false, nil
	}

	if err := in.persist(now); err != nil {
		return false, err
	}
	return true, nil
}

// Flush writes the accumulated Ah if dirty, ignoring the debounce. Used on
// shutdown.
func (in *Integrator) Flush(now time.Time) error {
	if !in.dirty {
		return nil
	}
	return in.persist(now)
}

func (in *Integrator) persist(now time.Time) error {
	if in.storage == nil {
		return fmt.Errorf("battery %s: no storage configured", in.key)
	}
	ah := in.ah
	if err := in.storage.Write(in.key, ah); err != nil {
		return fmt.Errorf("battery %s: writing Ah: %w", in.key, err)
	}
	in.dirty = false
	in.lastPersistedAh = ah
	in.lastPersist = now
	return nil
}

// LastPersistedAh returns the value written by the last successful persist.
func (in *Integrator) LastPersistedAh() float64 {
	return in.lastPersistedAh
}
