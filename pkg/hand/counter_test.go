package hand_test

import (
	"errors"
	"math"
	"testing"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/hand/handtest"
)

func TestCountFingers(t *testing.T) {
	tests := []struct {
		name       string
		handedness hand.Handedness
		extended   int
	}{
		{"right fist", hand.Right, 0},
		{"right thumb", hand.Right, 1},
		{"right three", hand.Right, 3},
		{"right open", hand.Right, 5},
		{"left fist", hand.Left, 0},
		{"left two", hand.Left, 2},
		{"left open", hand.Left, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hand.CountFingers(handtest.Pose(tt.handedness, tt.extended, 0.5), tt.handedness)
			if err != nil {
				t.Fatalf("CountFingers returned error: %v", err)
			}
			if got != tt.extended {
				t.Errorf("CountFingers = %d, want %d", got, tt.extended)
			}
		})
	}
}

func TestCountFingers_ThumbDependsOnHandedness(t *testing.T) {
	// A right hand with an extended thumb, labelled Left, reads the thumb as curled.
	pts := handtest.Pose(hand.Right, 1, 0.5)
	got, err := hand.CountFingers(pts, hand.Left)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("CountFingers = %d, want 0", got)
	}
}

func TestCountFingers_Deterministic(t *testing.T) {
	pts := handtest.Pose(hand.Right, 4, 0.3)
	first, err := hand.CountFingers(pts, hand.Right)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		got, _ := hand.CountFingers(pts, hand.Right)
		if got != first {
			t.Fatalf("call %d: got %d, want %d", i, got, first)
		}
	}
}

func TestCountFingers_Malformed(t *testing.T) {
	nan := handtest.Pose(hand.Right, 2, 0.5)
	nan[7].Y = math.NaN()

	tests := []struct {
		name       string
		landmarks  []hand.Point
		handedness hand.Handedness
	}{
		{"empty", nil, hand.Right},
		{"too few", handtest.Pose(hand.Right, 2, 0.5)[:20], hand.Right},
		{"too many", append(handtest.Pose(hand.Right, 2, 0.5), hand.Point{}), hand.Right},
		{"nan", nan, hand.Right},
		{"bad label", handtest.Pose(hand.Right, 2, 0.5), hand.Handedness("Both")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hand.CountFingers(tt.landmarks, tt.handedness)
			if !errors.Is(err, hand.ErrMalformedLandmarks) {
				t.Errorf("err = %v, want ErrMalformedLandmarks", err)
			}
		})
	}
}

func TestResolveHandedness(t *testing.T) {
	t.Run("same label, leftmost becomes Left", func(t *testing.T) {
		dets := []hand.Detection{
			handtest.Detection(hand.Right, 2, 0.7),
			handtest.Detection(hand.Right, 3, 0.2),
		}
		got := hand.ResolveHandedness(dets)
		if got[0].Handedness != hand.Right || got[1].Handedness != hand.Left {
			t.Errorf("got %s/%s, want Right/Left", got[0].Handedness, got[1].Handedness)
		}
		if dets[1].Handedness != hand.Right {
			t.Error("input slice was modified")
		}
	})

	t.Run("distinct labels untouched", func(t *testing.T) {
		dets := []hand.Detection{
			handtest.Detection(hand.Right, 2, 0.1),
			handtest.Detection(hand.Left, 3, 0.9),
		}
		got := hand.ResolveHandedness(dets)
		if got[0].Handedness != hand.Right || got[1].Handedness != hand.Left {
			t.Errorf("got %s/%s, want Right/Left", got[0].Handedness, got[1].Handedness)
		}
	})

	t.Run("three hands untouched", func(t *testing.T) {
		dets := []hand.Detection{
			handtest.Detection(hand.Left, 1, 0.9),
			handtest.Detection(hand.Left, 1, 0.1),
			handtest.Detection(hand.Left, 1, 0.5),
		}
		for i, d := range hand.ResolveHandedness(dets) {
			if d.Handedness != hand.Left {
				t.Errorf("hand %d relabelled to %s", i, d.Handedness)
			}
		}
	})
}

func TestParseHandedness(t *testing.T) {
	tests := []struct {
		in      string
		want    hand.Handedness
		wantErr bool
	}{
		{"Left", hand.Left, false},
		{"right", hand.Right, false},
		{" RIGHT ", hand.Right, false},
		{"", "", true},
		{"up", "", true},
	}
	for _, tt := range tests {
		got, err := hand.ParseHandedness(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHandedness(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseHandedness(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
