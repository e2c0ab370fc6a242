package node

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihavn1/boat-bowsensors/internal/config"
	"github.com/ihavn1/boat-bowsensors/internal/kv"
	"github.com/ihavn1/boat-bowsensors/internal/sensor"
)

func TestVesselUUID_Configured(t *testing.T) {
	cfg := config.Default()
	cfg.VesselUUID = "C0D79334-4E25-4245-8892-54E8CCC8021D"

	id, err := VesselUUID(cfg, kv.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, testUUID, id)
}

func TestVesselUUID_InvalidConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.VesselUUID = "not-a-uuid"

	_, err := VesselUUID(cfg, kv.NewMemory())
	assert.Error(t, err)
}

func TestVesselUUID_GeneratedOnceAndStored(t *testing.T) {
	store := kv.NewMemory()
	cfg := config.Default()

	first, err := VesselUUID(cfg, store)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := VesselUUID(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Puts())
}

func TestVesselUUID_ReplacesCorruptStoredValue(t *testing.T) {
	store := kv.NewMemory()
	require.NoError(t, store.Put(VesselKey, []byte("garbage")))

	id, err := VesselUUID(config.Default(), store)
	require.NoError(t, err)
	assert.NotEqual(t, "garbage", id)

	raw, _, _ := store.Get(VesselKey)
	assert.Equal(t, id, string(raw))
}

func TestVesselUUID_StoreFailure(t *testing.T) {
	store := kv.NewMemory()
	store.FailPuts(errors.New("read-only filesystem"))

	_, err := VesselUUID(config.Default(), store)
	assert.Error(t, err)
}

func TestOpenSource(t *testing.T) {
	tests := []struct {
		kind string
		want sensor.Source
	}{
		{config.SourceSerial, &sensor.Serial{}},
		{config.SourceModbus, &sensor.Modbus{}},
		{config.SourceReplay, &sensor.Replay{}},
		{config.SourceMock, &sensor.Mock{}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := config.Default()
			cfg.Source.Kind = tt.kind
			cfg.Source.Modbus.Registers = map[string]config.RegisterConfig{"house": {Voltage: 0, Current: 1}}

			src, err := OpenSource(cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
			assert.False(t, src.IsConnected())
		})
	}

	cfg := config.Default()
	cfg.Source.Kind = "can"
	_, err := OpenSource(cfg)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory

	store, err := OpenStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &kv.Memory{}, store)
}

func TestReadState(t *testing.T) {
	cfg := config.Default()
	cfg.Batteries = append(cfg.Batteries, config.DefaultBattery("start"))
	store := kv.NewMemory()
	require.NoError(t, kv.Float64(store).Write(BatteryKey("house"), 63.5))

	states, err := ReadState(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, []BatteryState{
		{ID: "house", Ah: 63.5, Stored: true},
		{ID: "start", Ah: 0, Stored: false},
	}, states)

	require.NoError(t, store.Put(BatteryKey("start"), []byte("x")))
	_, err = ReadState(cfg, store)
	assert.Error(t, err)
}
