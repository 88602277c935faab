// Package handtest builds synthetic hand landmarks for tests.
package handtest

import "github.com/gwillem/fingercount/pkg/hand"

// Pose returns 21 landmarks of a hand with the first n fingers extended,
// counting from the thumb. wristX shifts the whole hand horizontally.
func Pose(h hand.Handedness, n int, wristX float64) []hand.Point {
	pts := make([]hand.Point, hand.NumLandmarks)
	for i := range pts {
		pts[i] = hand.Point{X: wristX, Y: 0.5}
	}
	pts[hand.Wrist] = hand.Point{X: wristX, Y: 0.9}

	tips := []int{4, 8, 12, 16, 20}
	joints := []int{2, 6, 10, 14, 18}

	// Thumb.
	outward := -0.1
	if h == hand.Left {
		outward = 0.1
	}
	pts[joints[0]] = hand.Point{X: wristX, Y: 0.6}
	if n >= 1 {
		pts[tips[0]] = hand.Point{X: wristX + outward, Y: 0.55}
	} else {
		pts[tips[0]] = hand.Point{X: wristX - outward, Y: 0.55}
	}

	for f := 1; f < 5; f++ {
		pts[joints[f]] = hand.Point{X: wristX, Y: 0.5}
		if f < n {
			pts[tips[f]] = hand.Point{X: wristX, Y: 0.3}
		} else {
			pts[tips[f]] = hand.Point{X: wristX, Y: 0.6}
		}
	}
	return pts
}

// Detection wraps Pose into an engine detection.
func Detection(h hand.Handedness, n int, wristX float64) hand.Detection {
	return hand.Detection{Handedness: h, Score: 0.9, Landmarks: Pose(h, n, wristX)}
}
