package hand

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrMalformedLandmarks is returned for landmark input that does not follow
// the 21-point layout.
var ErrMalformedLandmarks = errors.New("malformed landmarks")

// CountFingers returns how many fingers (0-5) are extended on one hand.
//
// A finger other than the thumb is extended when its tip is above its PIP
// joint (smaller y in image coordinates). The thumb moves sideways, so it is
// extended when its tip lies outside its MCP joint on the side given by the
// handedness: to the left for a Right hand, to the right for a Left hand.
func CountFingers(landmarks []Point, handedness Handedness) (int, error) {
	if err := validate(landmarks); err != nil {
		return 0, err
	}
	if !handedness.Valid() {
		return 0, fmt.Errorf("%w: unknown handedness %q", ErrMalformedLandmarks, handedness)
	}

	count := 0
	if thumbExtended(landmarks, handedness) {
		count++
	}
	for i := 1; i < len(fingerTips); i++ {
		if landmarks[fingerTips[i]].Y < landmarks[fingerJoints[i]].Y {
			count++
		}
	}
	return count, nil
}

func thumbExtended(landmarks []Point, handedness Handedness) bool {
	tip := landmarks[fingerTips[0]]
	joint := landmarks[fingerJoints[0]]
	if handedness == Right {
		return tip.X < joint.X
	}
	return tip.X > joint.X
}

func validate(landmarks []Point) error {
	if len(landmarks) != NumLandmarks {
		return fmt.Errorf("%w: got %d points, want %d", ErrMalformedLandmarks, len(landmarks), NumLandmarks)
	}
	for i, p := range landmarks {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: point %d is not finite", ErrMalformedLandmarks, i)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ResolveHandedness applies a deterministic tie-break when exactly two hands
// carry the same label: the hand whose wrist is leftmost in the frame becomes
// Left, the other Right. Any other input is returned as reported. The input
// slice is not modified.
func ResolveHandedness(dets []Detection) []Detection {
	out := make([]Detection, len(dets))
	copy(out, dets)
	if len(out) != 2 || out[0].Handedness != out[1].Handedness {
		return out
	}
	if len(out[0].Landmarks) == 0 || len(out[1].Landmarks) == 0 {
		return out
	}

	idx := []int{0, 1}
	sort.SliceStable(idx, func(a, b int) bool {
		return out[idx[a]].Landmarks[Wrist].X < out[idx[b]].Landmarks[Wrist].X
	})
	out[idx[0]].Handedness = Left
	out[idx[1]].Handedness = Right
	return out
}
