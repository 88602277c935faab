package reaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/robot"
)

func defaultConfig() Config {
	return Config{
		Interval:         5 * time.Millisecond,
		PitchScale:       4,
		PitchMax:         20,
		YawAmplitude:     15,
		YawFrequency:     0.1,
		AntennaScale:     5,
		AntennaMax:       45,
		AntennaFrequency: 0.5,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestConfig_Pose(t *testing.T) {
	cfg := defaultConfig()
	// at 2.5s the yaw sway (0.1Hz) and the antenna swing (0.5Hz) both peak
	peak := 2500 * time.Millisecond

	tests := []struct {
		name     string
		count    int
		elapsed  time.Duration
		antennas bool
		want     robot.Pose
	}{
		{"no fingers looks down", 0, 0, true, robot.Pose{Pitch: -20}},
		{"five fingers looks ahead", 5, 0, true, robot.Pose{}},
		{"seven fingers", 7, 0, true, robot.Pose{Pitch: 8}},
		{"ten fingers looks up", 10, 0, true, robot.Pose{Pitch: 20}},
		{"pitch is clamped", 12, 0, true, robot.Pose{Pitch: 20}},
		{"antennas follow count", 3, peak, true, robot.Pose{Pitch: -8, Yaw: 15, LeftAntenna: 15, RightAntenna: -15}},
		{"antenna amplitude is capped", 10, peak, true, robot.Pose{Pitch: 20, Yaw: 15, LeftAntenna: 45, RightAntenna: -45}},
		{"antennas disabled stay still", 10, peak, false, robot.Pose{Pitch: 20, Yaw: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.Pose(tt.count, tt.elapsed, tt.antennas)
			if !near(got.Pitch, tt.want.Pitch) || !near(got.Yaw, tt.want.Yaw) ||
				!near(got.LeftAntenna, tt.want.LeftAntenna) || !near(got.RightAntenna, tt.want.RightAntenna) {
				t.Errorf("Pose(%d, %v, %v) = %+v, want %+v", tt.count, tt.elapsed, tt.antennas, got, tt.want)
			}
		})
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReactor_FollowsHub(t *testing.T) {
	hub := broadcast.New(broadcast.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	defer hub.Close()

	sim := robot.NewSim()
	cfg := defaultConfig()
	cfg.YawAmplitude = 0
	r := New(sim, func() bool { return false }, cfg)
	if _, err := hub.Register(r); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	hands := []hand.Observation{
		{Handedness: hand.Left, Fingers: 5},
		{Handedness: hand.Right, Fingers: 5},
	}
	hub.Publish(hand.NewSnapshot(1, hands, time.Now()))

	waitFor(t, "pose for ten fingers", func() bool {
		p, _ := sim.Pose()
		return near(p.Pitch, 20)
	})
	if r.Count() != 10 {
		t.Errorf("Count() = %d, want 10", r.Count())
	}

	// the hub closes its clients on shutdown, which ends Run
	hub.Close()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run = %v, want nil after Close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after the hub closed")
	}
	if s := r.Stats(); s.Poses == 0 || s.Failures != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

type failingPoser struct {
	mu    sync.Mutex
	calls int
}

func (f *failingPoser) SetPose(context.Context, robot.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &robot.ActuatorError{Op: "set_pose", Err: errors.New("bus timeout")}
}

func (f *failingPoser) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestReactor_KeepsRunningOnFailure(t *testing.T) {
	p := &failingPoser{}
	r := New(p, nil, defaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	waitFor(t, "repeated pose attempts", func() bool { return p.Calls() >= 3 })
	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if s := r.Stats(); s.Failures < 3 || s.Poses != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestReactor_SendNeverBlocks(t *testing.T) {
	r := New(robot.NewSim(), nil, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no Run loop and a dead context: Send still just records the count
	if err := r.Send(ctx, hand.NewSnapshot(1, []hand.Observation{{Handedness: hand.Right, Fingers: 3}}, time.Now())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
}
