package sensor

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the bridge MCU's serial speed.
const DefaultBaudRate = 115200

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports, with USB details where
// the platform provides them.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		result := make([]Port, 0, len(details))
		for _, d := range details {
			desc := d.Name
			if d.IsUSB {
				desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
			}
			result = append(result, Port{Name: d.Name, Description: strings.TrimSpace(desc)})
		}
		return result, nil
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial reads the line protocol of the sensor bridge MCU:
//
//	B,<battery>,<bus_raw>,<current_raw>   INA226 register values
//	S,<battery>,<bus_raw>,<shunt_raw>     same, from an uncalibrated chip
//	P,<1|0>                               one chain pulse, 1 = chain out
//
// On connect it sends C,<battery>,<calibration> for every battery so the
// bridge can program each chip. If the port goes away the source reports
// itself disconnected and keeps reopening it until Close.
type Serial struct {
	stream

	port     string
	baudRate int
	shunts   map[string]Shunt // battery id -> shunt
	retry    time.Duration
	open     func(name string, mode *serial.Mode) (serial.Port, error)

	connMu sync.Mutex
	conn   serial.Port
}

// DefaultReconnectInterval is the wait between attempts to reopen a lost port.
const DefaultReconnectInterval = 2 * time.Second

// NewSerial creates a serial source. shunts describes every battery the
// bridge reports; lines for other batteries are dropped.
func NewSerial(port string, baudRate int, shunts map[string]Shunt) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	s := &Serial{
		port:     port,
		baudRate: baudRate,
		shunts:   shunts,
		retry:    DefaultReconnectInterval,
		open:     serial.Open,
	}
	s.init(DefaultBufferSize)
	return s
}

// Connect opens the serial port and starts reading samples.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	port, err := s.dial()
	if err != nil {
		return err
	}
	s.conn = port

	return s.start(func() { s.read(port) })
}

// dial opens the port and sends the calibration values.
func (s *Serial) dial() (serial.Port, error) {
	port, err := s.open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	if err := writeCalibration(port, s.shunts); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// read scans port and reopens it whenever it ends before Close.
func (s *Serial) read(port serial.Port) {
	for {
		s.scan(port)
		if s.ctx.Err() != nil {
			return
		}

		log.Printf("Serial port %s lost, reconnecting", s.port)
		s.lost.Store(true)
		s.connMu.Lock()
		port.Close()
		s.conn = nil
		s.connMu.Unlock()

		if port = s.reopen(); port == nil {
			return
		}
		s.lost.Store(false)
		log.Printf("Serial port %s reconnected", s.port)
	}
}

// reopen retries dial every retry interval. It returns nil once the source
// is closed.
func (s *Serial) reopen() serial.Port {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(s.retry):
		}

		port, err := s.dial()
		if err != nil {
			log.Printf("Reopening serial port: %v", err)
			continue
		}

		s.connMu.Lock()
		if s.ctx.Err() != nil {
			s.connMu.Unlock()
			port.Close()
			return nil
		}
		s.conn = port
		s.connMu.Unlock()
		return port
	}
}

// writeCalibration sends one calibration line per battery, sorted by id.
func writeCalibration(w io.Writer, shunts map[string]Shunt) error {
	ids := make([]string, 0, len(shunts))
	for id := range shunts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cal, err := shunts[id].Calibration()
		if err != nil {
			return fmt.Errorf("battery %s: %w", id, err)
		}
		if _, err := fmt.Fprintf(w, "C,%s,%d\n", id, cal); err != nil {
			return fmt.Errorf("sending calibration for %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the port and stops reading samples.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stop(func() {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				log.Printf("Error closing serial port: %v", err)
			}
			s.conn = nil
		}
	})
	return nil
}

// scan reads lines from r until EOF or Close.
func (s *Serial) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sample, err := parseLine(line, s.shunts, time.Now())
		if err != nil {
			log.Printf("Failed to parse line '%s': %v", line, err)
			continue
		}
		if !s.emit(sample) {
			return
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}

// parseLine parses one bridge line into a Sample stamped with now.
func parseLine(line string, shunts map[string]Shunt, now time.Time) (Sample, error) {
	parts := strings.Split(line, ",")
	switch parts[0] {
	case "B":
		return parseBattery(parts, shunts, now, func(raw uint16, sh Shunt) float64 {
			return Amps(raw, sh.LSBmA)
		})
	case "S":
		return parseBattery(parts, shunts, now, func(raw uint16, sh Shunt) float64 {
			return ShuntAmps(raw, sh.Ohms)
		})

	case "P":
		if len(parts) != 2 {
			return Sample{}, fmt.Errorf("invalid pulse line: expected 2 comma-separated values, got %d", len(parts))
		}
		switch strings.TrimSpace(parts[1]) {
		case "1":
			return Sample{Timestamp: now, Kind: KindPulse, Out: true}, nil
		case "0":
			return Sample{Timestamp: now, Kind: KindPulse, Out: false}, nil
		default:
			return Sample{}, fmt.Errorf("invalid pulse direction %q", parts[1])
		}

	default:
		return Sample{}, fmt.Errorf("unknown record type %q", parts[0])
	}
}

// parseBattery parses the fields of a B or S line; amps converts the third
// register value.
func parseBattery(parts []string, shunts map[string]Shunt, now time.Time, amps func(uint16, Shunt) float64) (Sample, error) {
	if len(parts) != 4 {
		return Sample{}, fmt.Errorf("invalid battery line: expected 4 comma-separated values, got %d", len(parts))
	}
	id := strings.TrimSpace(parts[1])
	sh, ok := shunts[id]
	if !ok {
		return Sample{}, fmt.Errorf("unknown battery %q", id)
	}
	bus, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid bus voltage: %w", err)
	}
	raw, err := strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid current: %w", err)
	}
	return Sample{
		Timestamp: now,
		Kind:      KindBattery,
		Battery:   id,
		BusVolts:  BusVolts(uint16(bus)),
		Amps:      amps(uint16(raw), sh),
	}, nil
}
