package node

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ihavn1/boat-bowsensors/internal/config"
	"github.com/ihavn1/boat-bowsensors/internal/kv"
	"github.com/ihavn1/boat-bowsensors/internal/sensor"
)

// VesselKey is the storage key of the generated vessel UUID.
const VesselKey = "vessel/uuid"

// VesselUUID returns the configured vessel UUID, or the one stored from an
// earlier run, or a newly generated one which is then stored.
func VesselUUID(cfg *config.Config, store kv.Store) (string, error) {
	if cfg.VesselUUID != "" {
		id, err := uuid.Parse(cfg.VesselUUID)
		if err != nil {
			return "", fmt.Errorf("invalid vessel_uuid: %w", err)
		}
		return id.String(), nil
	}

	raw, ok, err := store.Get(VesselKey)
	if err != nil {
		return "", fmt.Errorf("reading vessel uuid: %w", err)
	}
	if ok {
		if id, err := uuid.ParseBytes(raw); err == nil {
			return id.String(), nil
		}
		log.Printf("Stored vessel uuid %q is invalid, generating a new one", raw)
	}

	id := uuid.New().String()
	if err := store.Put(VesselKey, []byte(id)); err != nil {
		return "", fmt.Errorf("storing vessel uuid: %w", err)
	}
	log.Printf("Generated vessel uuid %s", id)
	return id, nil
}

// OpenStore opens the configured state store. nc is required for the nats
// driver only.
func OpenStore(ctx context.Context, cfg *config.Config, nc *nats.Conn) (kv.Store, error) {
	return kv.Open(ctx, kv.Options{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
		Bucket: cfg.Storage.Bucket,
	}, nc)
}

// OpenSource builds the configured sample source. It is not connected yet.
func OpenSource(cfg *config.Config) (sensor.Source, error) {
	src := cfg.Source
	switch src.Kind {
	case config.SourceSerial:
		shunts := make(map[string]sensor.Shunt, len(cfg.Batteries))
		for _, b := range cfg.Batteries {
			shunts[b.ID] = b.Shunt()
		}
		return sensor.NewSerial(src.Serial.Port, src.Serial.Baud, shunts), nil

	case config.SourceModbus:
		regs := make([]sensor.RegisterMap, 0, len(src.Modbus.Registers))
		for id, r := range src.Modbus.Registers {
			regs = append(regs, sensor.RegisterMap{
				Battery:      id,
				Voltage:      r.Voltage,
				Current:      r.Current,
				VoltageScale: r.VoltageScale,
				CurrentScale: r.CurrentScale,
			})
		}
		return sensor.NewModbus(sensor.ModbusConfig{
			Address:      src.Modbus.Address,
			SlaveID:      src.Modbus.SlaveID,
			Timeout:      src.Modbus.Timeout,
			PollInterval: src.Modbus.PollInterval,
			Registers:    regs,
			Debug:        src.Modbus.Debug,
		}), nil

	case config.SourceReplay:
		return sensor.NewReplay(src.Replay.File, src.Replay.Speed), nil

	case config.SourceMock:
		ids := make([]string, 0, len(cfg.Batteries))
		for _, b := range cfg.Batteries {
			ids = append(ids, b.ID)
		}
		return sensor.NewMock(sensor.MockConfig{
			Batteries:     ids,
			ChargeAmps:    src.Mock.ChargeAmps,
			DischargeAmps: src.Mock.DischargeAmps,
			Period:        src.Mock.Period,
			SampleRate:    src.Mock.SampleRate,
			NoiseLevel:    src.Mock.NoiseLevel,
			PulseInterval: src.Mock.PulseInterval,
		}), nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// BatteryState is the persisted state of one battery.
type BatteryState struct {
	ID     string
	Ah     float64
	Stored bool // false when nothing has been persisted yet
}

// ReadState returns the persisted Ah of every configured battery.
func ReadState(cfg *config.Config, store kv.Store) ([]BatteryState, error) {
	storage := kv.Float64(store)
	out := make([]BatteryState, 0, len(cfg.Batteries))
	for _, b := range cfg.Batteries {
		ah, ok, err := storage.Read(BatteryKey(b.ID))
		if err != nil {
			return nil, fmt.Errorf("battery %s: %w", b.ID, err)
		}
		out = append(out, BatteryState{ID: b.ID, Ah: ah, Stored: ok})
	}
	return out, nil
}
