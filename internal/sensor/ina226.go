package sensor

import (
	"fmt"
	"math"
)

// INA226 register scaling.
const (
	// BusVoltsLSB is the bus voltage register resolution in volts.
	BusVoltsLSB = 0.00125
	// ShuntVoltsLSB is the shunt voltage register resolution in volts.
	ShuntVoltsLSB = 0.0000025
	// calibrationScale is the fixed internal scaling of the calibration register.
	calibrationScale = 0.00512
	// MaxCalibration is the largest value the calibration register holds.
	MaxCalibration = 0x7FFF
)

// Shunt describes how one battery's INA226 is wired and calibrated.
type Shunt struct {
	LSBmA float64 // current register LSB in milliamps
	Ohms  float64 // shunt resistance
}

// Calibration returns the calibration register value for s. It fails when
// the LSB and resistance cannot be programmed into the chip.
func (s Shunt) Calibration() (uint16, error) {
	cal := Calibration(s.LSBmA, s.Ohms)
	if cal == 0 || cal > MaxCalibration {
		return 0, fmt.Errorf("current LSB %g mA with a %g ohm shunt needs calibration %d, outside 1..%d",
			s.LSBmA, s.Ohms, cal, MaxCalibration)
	}
	return cal, nil
}

// BusVolts converts a bus voltage register value to volts.
func BusVolts(raw uint16) float64 {
	return float64(raw) * BusVoltsLSB
}

// Amps converts a current register value to amps. The register is two's
// complement; lsbMA is the current LSB chosen at calibration in milliamps.
func Amps(raw uint16, lsbMA float64) float64 {
	return float64(int16(raw)) * lsbMA / 1000
}

// ShuntAmps computes current from a shunt voltage register value, for
// chips left uncalibrated.
func ShuntAmps(raw uint16, shuntOhms float64) float64 {
	if shuntOhms <= 0 {
		return 0
	}
	return float64(int16(raw)) * ShuntVoltsLSB / shuntOhms
}

// Calibration returns the calibration register value for the given current
// LSB and shunt resistance, saturated to the register range.
func Calibration(lsbMA, shuntOhms float64) uint16 {
	if lsbMA <= 0 || shuntOhms <= 0 {
		return 0
	}
	cal := math.Round(calibrationScale / (lsbMA / 1000 * shuntOhms))
	if cal > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(cal)
}

// CurrentLSBmA returns the smallest current LSB that can represent maxAmps.
func CurrentLSBmA(maxAmps float64) float64 {
	return math.Abs(maxAmps) * 1000 / 32768
}
