// Package hand models detected hands and derives finger counts from their landmarks.
package hand

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Handedness is the left/right label assigned to a detected hand.
type Handedness string

const (
	Left  Handedness = "Left"
	Right Handedness = "Right"
)

// ParseHandedness accepts the labels emitted by the landmark model.
func ParseHandedness(s string) (Handedness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return "", fmt.Errorf("unknown handedness %q", s)
}

func (h Handedness) Valid() bool {
	return h == Left || h == Right
}

// NumLandmarks is the number of points per hand in the landmark layout.
const NumLandmarks = 21

// Landmark indices used by the counter.
const (
	Wrist = 0
)

var (
	// fingerTips lists tip landmarks: thumb, index, middle, ring, pinky.
	fingerTips = [5]int{4, 8, 12, 16, 20}
	// fingerJoints lists the reference joint for each finger. The thumb
	// uses its MCP (2), the others their PIP joint.
	fingerJoints = [5]int{2, 6, 10, 14, 18}
)

// Point is one landmark in normalized image coordinates.
type Point struct {
	X float64
	Y float64
	Z float64
}

// MarshalJSON encodes a point as [x, y, z].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.X, p.Y, p.Z})
}

// UnmarshalJSON decodes [x, y, z].
func (p *Point) UnmarshalJSON(data []byte) error {
	var v [3]float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.X, p.Y, p.Z = v[0], v[1], v[2]
	return nil
}

// Detection is one hand as reported by the inference engine, before counting.
type Detection struct {
	Handedness Handedness
	Score      float64
	Landmarks  []Point
}
