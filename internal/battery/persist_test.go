package battery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPersisting(storage *memStorage, interval time.Duration, delta float64) *Integrator {
	cfg := DefaultConfig("battery/house/ah")
	cfg.CapacityAh = 100
	cfg.InitialAh = 50
	cfg.PersistInterval = interval
	cfg.PersistDeltaAh = delta
	return New(cfg, storage)
}

func TestMaybePersist_CleanNeverWrites(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, 10*time.Second, 0.5)
	in.Advance(t0)

	wrote, err := in.MaybePersist(t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 0, storage.writes)
}

func TestMaybePersist_SmallChangeWaitsForInterval(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, 10*time.Second, 0.5)
	in.Advance(t0)

	// 0.1 Ah change
	in.SetAccumulatedAh(50.1)

	wrote, err := in.MaybePersist(t0.Add(5 * time.Second))
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.True(t, in.Dirty())

	wrote, err = in.MaybePersist(t0.Add(10 * time.Second))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.False(t, in.Dirty())
	assert.InDelta(t, 50.1, storage.values["battery/house/ah"], 1e-9)
	assert.InDelta(t, 50.1, in.LastPersistedAh(), 1e-9)
}

func TestMaybePersist_LargeChangeWritesEarly(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, time.Hour, 0.5)
	in.Advance(t0)

	in.RecordCurrent(36)
	// 36 A for 60 s = 0.6 Ah
	in.Advance(t0.Add(time.Minute))
	require.InDelta(t, 50.6, in.AccumulatedAh(), 1e-9)

	wrote, err := in.MaybePersist(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 1, storage.writes)
}

func TestMaybePersist_IntervalMeasuredFromLastWrite(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, 10*time.Second, 0.5)
	in.Advance(t0)

	in.SetAccumulatedAh(55)
	wrote, err := in.MaybePersist(t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, wrote)

	in.SetAccumulatedAh(55.2)
	wrote, err = in.MaybePersist(t0.Add(9 * time.Second))
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = in.MaybePersist(t0.Add(11 * time.Second))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 2, storage.writes)
}

func TestMaybePersist_FailureKeepsDirtyAndRetriesLatest(t *testing.T) {
	storage := newMemStorage()
	storage.err = errors.New("nvs write failed")
	in := newPersisting(storage, 10*time.Second, 0.5)
	in.Advance(t0)

	in.SetAccumulatedAh(60)
	wrote, err := in.MaybePersist(t0.Add(time.Second))
	assert.Error(t, err)
	assert.False(t, wrote)
	assert.True(t, in.Dirty())
	assert.InDelta(t, 50, in.LastPersistedAh(), 1e-9)

	// Storage recovers; the newer value supersedes the failed attempt.
	storage.err = nil
	in.SetAccumulatedAh(61)
	wrote, err = in.MaybePersist(t0.Add(2 * time.Second))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.InDelta(t, 61, storage.values["battery/house/ah"], 1e-9)
	assert.False(t, in.Dirty())
}

func TestMaybePersist_CleanMeansPersistedValue(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, time.Second, 0)
	in.Advance(t0)
	in.RecordCurrent(-8)

	now := t0
	for i := 0; i < 20; i++ {
		now = now.Add(1500 * time.Millisecond)
		in.Advance(now)
		_, err := in.MaybePersist(now)
		require.NoError(t, err)
		if !in.Dirty() {
			assert.Equal(t, in.AccumulatedAh(), in.LastPersistedAh())
			assert.Equal(t, in.AccumulatedAh(), storage.values["battery/house/ah"])
		}
	}
}

func TestFlush(t *testing.T) {
	storage := newMemStorage()
	in := newPersisting(storage, time.Hour, 10)
	in.Advance(t0)

	require.NoError(t, in.Flush(t0))
	assert.Equal(t, 0, storage.writes)

	in.SetAccumulatedAh(50.01)
	require.NoError(t, in.Flush(t0.Add(time.Second)))
	assert.Equal(t, 1, storage.writes)
	assert.False(t, in.Dirty())
}

func TestMaybePersist_NoStorage(t *testing.T) {
	cfg := DefaultConfig("k")
	in := New(cfg, nil)
	in.SetAccumulatedAh(3)

	_, err := in.MaybePersist(t0.Add(time.Hour))
	assert.Error(t, err)
	assert.True(t, in.Dirty())
}
