package sensor

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reading is one recorded row of a Home Assistant history export.
type Reading struct {
	Timestamp time.Time
	EntityID  string
	Value     float64
}

// ParseHomeAssistant parses a Home Assistant CSV export.
//
// Expected format:
//
//	entity_id,state,last_changed
//	sensor.house_current,-4.21,2024-11-21T13:00:00.000Z
//
// Rows whose state is not a number (e.g. "unavailable") are skipped.
// Readings are returned sorted by time.
func ParseHomeAssistant(r io.Reader) ([]Reading, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	var readings []Reading
	lineNum := 1 // header was line 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		reading, err := parseRecord(record, lineNum)
		if err != nil {
			continue
		}
		readings = append(readings, reading)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings, nil
}

func validateHeader(header []string) error {
	if len(header) < 3 {
		return fmt.Errorf("expected at least 3 columns, got %d", len(header))
	}

	expected := []string{"entity_id", "state", "last_changed"}
	for i, col := range expected {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}
	return nil
}

func parseRecord(record []string, lineNum int) (Reading, error) {
	if len(record) < 3 {
		return Reading{}, fmt.Errorf("line %d: expected 3 fields, got %d", lineNum, len(record))
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("line %d: parsing value %q: %w", lineNum, record[1], err)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(record[2]))
	if err != nil {
		return Reading{}, fmt.Errorf("line %d: parsing timestamp %q: %w", lineNum, record[2], err)
	}

	return Reading{
		Timestamp: ts,
		EntityID:  strings.TrimSpace(record[0]),
		Value:     value,
	}, nil
}

// EntityBattery maps entity ids of the form sensor.<battery>_current and
// sensor.<battery>_voltage to the battery id and quantity.
func EntityBattery(entityID string) (battery string, quantity string, ok bool) {
	name := strings.TrimPrefix(entityID, "sensor.")
	for _, q := range []string{"current", "voltage"} {
		if id, found := strings.CutSuffix(name, "_"+q); found && id != "" {
			return id, q, true
		}
	}
	return "", "", false
}

// Replay plays back recorded battery readings. Current rows become battery
// samples carrying the latest recorded voltage; gaps between rows are
// divided by the speed factor.
type Replay struct {
	stream

	path     string
	speed    float64
	readings []Reading
	sleep    func(d time.Duration) bool
}

// NewReplay creates a replay source for the CSV file at path.
func NewReplay(path string, speed float64) *Replay {
	if speed <= 0 {
		speed = 1
	}
	r := &Replay{path: path, speed: speed}
	r.init(DefaultBufferSize)
	r.sleep = r.wait
	return r
}

// Connect loads the file and starts playback.
func (r *Replay) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return fmt.Errorf("already connected")
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()

	readings, err := ParseHomeAssistant(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", r.path, err)
	}
	r.readings = readings

	return r.start(r.play)
}

// Close stops playback.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop(nil)
	return nil
}

func (r *Replay) play() {
	volts := make(map[string]float64)
	var prev time.Time

	for _, rd := range r.readings {
		battery, quantity, ok := EntityBattery(rd.EntityID)
		if !ok {
			continue
		}
		if quantity == "voltage" {
			volts[battery] = rd.Value
			continue
		}

		if !prev.IsZero() {
			gap := time.Duration(float64(rd.Timestamp.Sub(prev)) / r.speed)
			if !r.sleep(gap) {
				return
			}
		}
		prev = rd.Timestamp

		if !r.emitWait(Sample{
			Timestamp: rd.Timestamp,
			Kind:      KindBattery,
			Battery:   battery,
			BusVolts:  volts[battery],
			Amps:      rd.Value,
		}) {
			return
		}
	}
}

// wait sleeps for d unless the replay is closed first.
func (r *Replay) wait(d time.Duration) bool {
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}
