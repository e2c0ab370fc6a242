// Package config loads the node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ihavn1/boat-bowsensors/internal/sensor"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Sample source kinds.
const (
	SourceSerial = "serial"
	SourceModbus = "modbus"
	SourceReplay = "replay"
	SourceMock   = "mock"
)

// ChipINA226 is the only supported current sense chip.
const ChipINA226 = "ina226"

// Config represents the node configuration.
type Config struct {
	Hostname             string          `yaml:"hostname"`
	VesselUUID           string          `yaml:"vessel_uuid"`
	IntegrationInterval  time.Duration   `yaml:"integration_interval"`
	PersistCheckInterval time.Duration   `yaml:"persist_check_interval"`
	OutputInterval       time.Duration   `yaml:"output_interval"`
	Storage              StorageConfig   `yaml:"storage"`
	Telemetry            TelemetryConfig `yaml:"telemetry"`
	Chain                ChainConfig     `yaml:"chain"`
	Source               SourceConfig    `yaml:"source"`
	Batteries            []BatteryConfig `yaml:"batteries"`
}

// StorageConfig selects where accumulated charge survives restarts.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`   // file driver
	Bucket string `yaml:"bucket"` // nats driver
}

// TelemetryConfig contains the outbound Signal K transports.
type TelemetryConfig struct {
	Listen        string `yaml:"listen"`   // websocket stream, empty = disabled
	NATSURL       string `yaml:"nats_url"` // empty = disabled
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ChainConfig contains anchor chain counter parameters.
type ChainConfig struct {
	MetersPerPulse float64       `yaml:"meters_per_pulse"`
	ReadInterval   time.Duration `yaml:"read_interval"`
	Path           string        `yaml:"path"`
	ResetPath      string        `yaml:"reset_path"`
}

// SourceConfig selects and configures the sample source.
type SourceConfig struct {
	Kind   string       `yaml:"kind"`
	Serial SerialConfig `yaml:"serial"`
	Modbus ModbusConfig `yaml:"modbus"`
	Replay ReplayConfig `yaml:"replay"`
	Mock   MockConfig   `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ModbusConfig contains Modbus TCP/RTU polling configuration.
type ModbusConfig struct {
	Address      string                    `yaml:"address"` // host:port for TCP, device path for RTU
	SlaveID      byte                      `yaml:"slave_id"`
	Timeout      time.Duration             `yaml:"timeout"`
	PollInterval time.Duration             `yaml:"poll_interval"`
	Registers    map[string]RegisterConfig `yaml:"registers,omitempty"` // battery id -> registers
	Debug        bool                      `yaml:"debug,omitempty"`     // log raw modbus frames
}

// RegisterConfig maps one battery onto two signed 16-bit holding registers.
type RegisterConfig struct {
	Voltage      uint16  `yaml:"voltage"`
	Current      uint16  `yaml:"current"`
	VoltageScale float64 `yaml:"voltage_scale"` // volts per count
	CurrentScale float64 `yaml:"current_scale"` // amps per count
}

// ReplayConfig contains recorded-history replay parameters.
type ReplayConfig struct {
	File  string  `yaml:"file"`
	Speed float64 `yaml:"speed"` // 1 = real time
}

// MockConfig contains simulated source parameters.
type MockConfig struct {
	ChargeAmps    float64       `yaml:"charge_amps"`
	DischargeAmps float64       `yaml:"discharge_amps"`
	Period        time.Duration `yaml:"period"`         // full charge/discharge cycle
	SampleRate    time.Duration `yaml:"sample_rate"`    // time between samples
	NoiseLevel    float64       `yaml:"noise_level"`    // amps
	PulseInterval time.Duration `yaml:"pulse_interval"` // 0 = no chain pulses
}

// BatteryConfig describes one monitored battery.
type BatteryConfig struct {
	ID                  string        `yaml:"id"`
	Chip                string        `yaml:"chip"`
	ShuntOhms           float64       `yaml:"shunt_ohms"`
	CurrentLSBmA        float64       `yaml:"current_lsb_ma"`
	MaxAmps             float64       `yaml:"max_amps,omitempty"` // derives current_lsb_ma when that is unset
	CapacityAh          float64       `yaml:"capacity_ah"`        // 0 = no upper clamp
	MarkedCapacityAh    float64       `yaml:"marked_capacity_ah"`
	InitialAh           float64       `yaml:"initial_ah"`
	ChargeEfficiency    *float64      `yaml:"charge_efficiency"`    // percent, unset = 100
	DischargeEfficiency *float64      `yaml:"discharge_efficiency"` // percent, unset = 100
	PersistInterval     time.Duration `yaml:"persist_interval"`
	PersistDeltaAh      float64       `yaml:"persist_delta_ah"`
}

// DefaultEfficiency is used for efficiencies left out of the file.
const DefaultEfficiency = 100.0

// Percent returns a pointer to pct, for efficiency fields.
func Percent(pct float64) *float64 {
	return &pct
}

// Efficiencies returns the charge and discharge efficiencies in percent.
func (b BatteryConfig) Efficiencies() (charge, discharge float64) {
	charge, discharge = DefaultEfficiency, DefaultEfficiency
	if b.ChargeEfficiency != nil {
		charge = *b.ChargeEfficiency
	}
	if b.DischargeEfficiency != nil {
		discharge = *b.DischargeEfficiency
	}
	return charge, discharge
}

// Shunt returns the INA226 shunt settings of the battery.
func (b BatteryConfig) Shunt() sensor.Shunt {
	return sensor.Shunt{LSBmA: b.CurrentLSBmA, Ohms: b.ShuntOhms}
}

// DefaultBattery returns a battery with every optional field set.
func DefaultBattery(id string) BatteryConfig {
	return BatteryConfig{
		ID:                  id,
		Chip:                ChipINA226,
		ShuntOhms:           0.0001, // 500 A / 50 mV
		CurrentLSBmA:        25,     // up to 819 A
		CapacityAh:          100,
		MarkedCapacityAh:    100,
		ChargeEfficiency:    Percent(DefaultEfficiency),
		DischargeEfficiency: Percent(DefaultEfficiency),
		PersistInterval:     10 * time.Minute,
		PersistDeltaAh:      0.5,
	}
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Hostname:             "bow-sensors",
		IntegrationInterval:  time.Second,
		PersistCheckInterval: 5 * time.Second,
		OutputInterval:       time.Second,
		Storage: StorageConfig{
			Driver: DriverFile,
			Path:   "state.json",
			Bucket: "bowsensors",
		},
		Telemetry: TelemetryConfig{
			Listen:        ":3000",
			SubjectPrefix: "signalk",
		},
		Chain: ChainConfig{
			MetersPerPulse: 0.1,
			ReadInterval:   100 * time.Millisecond,
			Path:           "navigation.anchor.currentRode",
			ResetPath:      "navigation.anchor.resetRode",
		},
		Source: SourceConfig{
			Kind: SourceSerial,
			Serial: SerialConfig{
				Port: "/dev/ttyUSB0",
				Baud: 115200,
			},
			Modbus: ModbusConfig{
				Address:      "localhost:502",
				SlaveID:      1,
				Timeout:      time.Second,
				PollInterval: time.Second,
			},
			Replay: ReplayConfig{
				Speed: 1,
			},
			Mock: MockConfig{
				ChargeAmps:    20,
				DischargeAmps: 8,
				Period:        10 * time.Minute,
				SampleRate:    200 * time.Millisecond,
				NoiseLevel:    0.2,
			},
		},
		Batteries: []BatteryConfig{DefaultBattery("house")},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports configuration that cannot be run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverFile, DriverNATS, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == DriverNATS && c.Telemetry.NATSURL == "" {
		errs = append(errs, errors.New("storage driver nats requires telemetry.nats_url"))
	}

	switch c.Source.Kind {
	case SourceSerial, SourceModbus, SourceMock:
	case SourceReplay:
		if c.Source.Replay.File == "" {
			errs = append(errs, errors.New("replay source requires source.replay.file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}

	seen := make(map[string]bool, len(c.Batteries))
	for i, b := range c.Batteries {
		switch {
		case b.ID == "":
			errs = append(errs, fmt.Errorf("battery %d: missing id", i))
		case seen[b.ID]:
			errs = append(errs, fmt.Errorf("battery %q: duplicate id", b.ID))
		}
		seen[b.ID] = true
		if b.Chip != ChipINA226 {
			errs = append(errs, fmt.Errorf("battery %q: unsupported chip %q", b.ID, b.Chip))
		}
		if b.CapacityAh < 0 || b.MarkedCapacityAh < 0 {
			errs = append(errs, fmt.Errorf("battery %q: capacity must not be negative", b.ID))
		}
		if b.Chip == ChipINA226 {
			if _, err := b.Shunt().Calibration(); err != nil {
				errs = append(errs, fmt.Errorf("battery %q: %w", b.ID, err))
			}
		}
	}

	if c.Source.Kind == SourceModbus {
		for id := range c.Source.Modbus.Registers {
			if !seen[id] {
				errs = append(errs, fmt.Errorf("modbus registers for unknown battery %q", id))
			}
		}
	}

	return errors.Join(errs...)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Hostname == "" {
		c.Hostname = def.Hostname
	}
	if c.IntegrationInterval <= 0 {
		c.IntegrationInterval = def.IntegrationInterval
	}
	if c.PersistCheckInterval <= 0 {
		c.PersistCheckInterval = def.PersistCheckInterval
	}
	if c.OutputInterval <= 0 {
		c.OutputInterval = def.OutputInterval
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = def.Storage.Bucket
	}

	if c.Telemetry.SubjectPrefix == "" {
		c.Telemetry.SubjectPrefix = def.Telemetry.SubjectPrefix
	}

	if c.Chain.MetersPerPulse <= 0 {
		c.Chain.MetersPerPulse = def.Chain.MetersPerPulse
	}
	if c.Chain.ReadInterval <= 0 {
		c.Chain.ReadInterval = def.Chain.ReadInterval
	}
	if c.Chain.Path == "" {
		c.Chain.Path = def.Chain.Path
	}
	if c.Chain.ResetPath == "" {
		c.Chain.ResetPath = def.Chain.ResetPath
	}

	if c.Source.Kind == "" {
		c.Source.Kind = def.Source.Kind
	}
	if c.Source.Serial.Port == "" {
		c.Source.Serial.Port = def.Source.Serial.Port
	}
	if c.Source.Serial.Baud == 0 {
		c.Source.Serial.Baud = def.Source.Serial.Baud
	}
	if c.Source.Modbus.Address == "" {
		c.Source.Modbus.Address = def.Source.Modbus.Address
	}
	if c.Source.Modbus.SlaveID == 0 {
		c.Source.Modbus.SlaveID = def.Source.Modbus.SlaveID
	}
	if c.Source.Modbus.Timeout <= 0 {
		c.Source.Modbus.Timeout = def.Source.Modbus.Timeout
	}
	if c.Source.Modbus.PollInterval <= 0 {
		c.Source.Modbus.PollInterval = def.Source.Modbus.PollInterval
	}
	for id, r := range c.Source.Modbus.Registers {
		if r.VoltageScale == 0 {
			r.VoltageScale = 0.01
		}
		if r.CurrentScale == 0 {
			r.CurrentScale = 0.01
		}
		c.Source.Modbus.Registers[id] = r
	}
	if c.Source.Replay.Speed <= 0 {
		c.Source.Replay.Speed = def.Source.Replay.Speed
	}
	if c.Source.Mock.Period <= 0 {
		c.Source.Mock.Period = def.Source.Mock.Period
	}
	if c.Source.Mock.SampleRate <= 0 {
		c.Source.Mock.SampleRate = def.Source.Mock.SampleRate
	}

	if len(c.Batteries) == 0 {
		c.Batteries = def.Batteries
	}
	for i := range c.Batteries {
		c.Batteries[i].fillDefaults()
	}
}

// fillDefaults sets optional fields left at zero. Capacity stays as given
// since zero disables the upper clamp.
func (b *BatteryConfig) fillDefaults() {
	def := DefaultBattery(b.ID)
	if b.Chip == "" {
		b.Chip = def.Chip
	}
	if b.ShuntOhms <= 0 {
		b.ShuntOhms = def.ShuntOhms
	}
	if b.CurrentLSBmA <= 0 {
		if b.MaxAmps > 0 {
			b.CurrentLSBmA = sensor.CurrentLSBmA(b.MaxAmps)
		} else {
			b.CurrentLSBmA = def.CurrentLSBmA
		}
	}
	if b.ChargeEfficiency == nil {
		b.ChargeEfficiency = def.ChargeEfficiency
	}
	if b.DischargeEfficiency == nil {
		b.DischargeEfficiency = def.DischargeEfficiency
	}
	if b.PersistInterval <= 0 {
		b.PersistInterval = def.PersistInterval
	}
	if b.PersistDeltaAh <= 0 {
		b.PersistDeltaAh = def.PersistDeltaAh
	}
}
