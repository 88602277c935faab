package robot

import (
	"fmt"
)

// MotorCalibration holds calibration data for a single servo.
type MotorCalibration struct {
	ID       int `yaml:"id"`
	RangeMin int `yaml:"range_min"`
	RangeMax int `yaml:"range_max"`
}

// Calibration holds calibration data for all servos, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// DefaultCalibration maps the head servos 1-4 to the full STS range.
func DefaultCalibration() Calibration {
	cal := make(Calibration, 4)
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: i + 1, RangeMin: 0, RangeMax: 4095}
	}
	return cal
}

// Normalize converts a raw servo position to a normalized value in the range [-100, 100].
func (c MotorCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	return (float64(raw-c.RangeMin)/rangeSize)*200 - 100
}

// Denormalize converts a normalized value [-100, 100] to a raw servo position.
// Values outside the range are clamped.
func (c MotorCalibration) Denormalize(norm float64) int {
	norm = clamp(norm, -100, 100)
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*rangeSize) + c.RangeMin
}

// stepsPerDegree is the resolution of an STS servo, 4096 steps per turn.
const stepsPerDegree = 4096.0 / 360.0

// DegreesToNorm converts an angle to the normalized units of this servo's range.
func (c MotorCalibration) DegreesToNorm(deg float64) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	return deg * stepsPerDegree / rangeSize * 200
}

// MotorIDs returns the servo IDs for all motors in the calibration.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	// AllMotors fixes the order.
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// Validate checks that every head servo is present with a usable range.
func (c Calibration) Validate() error {
	seen := make(map[int]MotorName, len(c))
	for _, name := range AllMotors() {
		mc, ok := c[name]
		if !ok {
			return fmt.Errorf("calibration: missing %s", name)
		}
		if mc.RangeMax <= mc.RangeMin {
			return fmt.Errorf("calibration: %s range %d..%d is empty", name, mc.RangeMin, mc.RangeMax)
		}
		if other, dup := seen[mc.ID]; dup {
			return fmt.Errorf("calibration: %s and %s share servo id %d", other, name, mc.ID)
		}
		seen[mc.ID] = name
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
