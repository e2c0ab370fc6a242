package sensor

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goburrow/modbus"
)

// RegisterMap places one battery's voltage and current in holding registers.
// Both are signed 16-bit values multiplied by their scale.
type RegisterMap struct {
	Battery      string
	Voltage      uint16
	Current      uint16
	VoltageScale float64
	CurrentScale float64
}

// ModbusConfig describes a Modbus shunt monitor.
type ModbusConfig struct {
	Address      string // host:port for TCP, device path for RTU
	SlaveID      byte
	Timeout      time.Duration
	PollInterval time.Duration
	Registers    []RegisterMap
	Debug        bool // log raw frames
}

// registerReader is the part of modbus.Client the poller uses.
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Modbus polls battery registers from a Modbus TCP or RTU device.
type Modbus struct {
	stream

	cfg     ModbusConfig
	handler modbusHandler
	client  registerReader
}

// NewModbus creates a Modbus source. Addresses containing a colon are
// dialed over TCP, anything else is opened as an RTU serial device.
func NewModbus(cfg ModbusConfig) *Modbus {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	sort.Slice(cfg.Registers, func(i, j int) bool { return cfg.Registers[i].Battery < cfg.Registers[j].Battery })

	var logger *log.Logger
	if cfg.Debug {
		logger = log.New(os.Stderr, "modbus: ", log.LstdFlags)
	}

	var handler modbusHandler
	if strings.Contains(cfg.Address, ":") {
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.SlaveID
		h.Logger = logger
		handler = h
	} else {
		h := modbus.NewRTUClientHandler(cfg.Address)
		h.BaudRate = 9600
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.SlaveID
		h.Logger = logger
		handler = h
	}

	m := &Modbus{cfg: cfg, handler: handler}
	m.init(DefaultBufferSize)
	return m
}

// Connect opens the Modbus connection and starts polling.
func (m *Modbus) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	if err := m.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect %s: %w", m.cfg.Address, err)
	}
	m.client = modbus.NewClient(m.handler)

	return m.start(m.poll)
}

// Close stops polling and closes the connection.
func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stop(nil)
	if err := m.handler.Close(); err != nil {
		log.Printf("Error closing modbus connection: %v", err)
	}
	return nil
}

func (m *Modbus) poll() {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range readBatteries(m.client, m.cfg.Registers, now) {
				if !m.emit(s) {
					return
				}
			}
		}
	}
}

// readBatteries reads every mapped battery. Batteries whose registers
// cannot be read are skipped for this poll.
func readBatteries(client registerReader, regs []RegisterMap, now time.Time) []Sample {
	out := make([]Sample, 0, len(regs))
	for _, r := range regs {
		volts, err := readInt16(client, r.Voltage)
		if err != nil {
			log.Printf("modbus read %s voltage @%d: %v", r.Battery, r.Voltage, err)
			continue
		}
		amps, err := readInt16(client, r.Current)
		if err != nil {
			log.Printf("modbus read %s current @%d: %v", r.Battery, r.Current, err)
			continue
		}
		out = append(out, Sample{
			Timestamp: now,
			Kind:      KindBattery,
			Battery:   r.Battery,
			BusVolts:  float64(volts) * r.VoltageScale,
			Amps:      float64(amps) * r.CurrentScale,
		})
	}
	return out
}

func readInt16(client registerReader, address uint16) (int16, error) {
	resp, err := client.ReadHoldingRegisters(address, 1)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("short response: %d bytes", len(resp))
	}
	return int16(binary.BigEndian.Uint16(resp)), nil
}
