package hand

import (
	"fmt"
	"time"
)

// Observation is one counted hand in one frame.
type Observation struct {
	Handedness Handedness
	Landmarks  []Point
	Fingers    int
}

// Observe counts the fingers of a detection and returns the resulting observation.
func Observe(d Detection) (Observation, error) {
	n, err := CountFingers(d.Landmarks, d.Handedness)
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		Handedness: d.Handedness,
		Landmarks:  d.Landmarks,
		Fingers:    n,
	}, nil
}

// Snapshot is the state published for a single tracking tick.
// It is never modified after NewSnapshot returns.
type Snapshot struct {
	Seq           uint64
	TotalFingers  int
	HandsDetected int
	Hands         []Observation
	Timestamp     time.Time
}

// NewSnapshot folds observations into a snapshot. Hands keep detection order.
func NewSnapshot(seq uint64, hands []Observation, ts time.Time) Snapshot {
	s := Snapshot{
		Seq:           seq,
		HandsDetected: len(hands),
		Hands:         make([]Observation, len(hands)),
		Timestamp:     ts,
	}
	copy(s.Hands, hands)
	for _, h := range hands {
		s.TotalFingers += h.Fingers
	}
	return s
}

// Empty reports whether no hand is visible.
func (s Snapshot) Empty() bool {
	return s.HandsDetected == 0
}

// Validate checks the per-hand and total finger invariants.
func (s Snapshot) Validate() error {
	sum := 0
	for i, h := range s.Hands {
		if h.Fingers < 0 || h.Fingers > 5 {
			return fmt.Errorf("hand %d: fingers %d out of range", i, h.Fingers)
		}
		sum += h.Fingers
	}
	if sum != s.TotalFingers {
		return fmt.Errorf("total %d does not match sum %d", s.TotalFingers, sum)
	}
	if s.HandsDetected != len(s.Hands) {
		return fmt.Errorf("hands_detected %d does not match %d hands", s.HandsDetected, len(s.Hands))
	}
	if len(s.Hands) <= 2 && (s.TotalFingers < 0 || s.TotalFingers > 10) {
		return fmt.Errorf("total %d out of range", s.TotalFingers)
	}
	return nil
}
