// Package reaction moves the robot head with the finger count: the head
// tilts up as more fingers are raised and sways gently, and the antennas
// swing wider with every finger while they are enabled.
package reaction

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/robot"
)

// neutralCount is the finger count at which the head looks straight ahead.
const neutralCount = 5

// Config shapes the pose. Angles are in degrees, frequencies in Hz.
type Config struct {
	Interval         time.Duration // default 20ms
	PitchScale       float64
	PitchMax         float64
	YawAmplitude     float64
	YawFrequency     float64
	AntennaScale     float64
	AntennaMax       float64
	AntennaFrequency float64
	// Timeout bounds one pose write. Default Interval.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Pose computes the target for count raised fingers at elapsed time into
// the motion.
func (c Config) Pose(count int, elapsed time.Duration, antennas bool) robot.Pose {
	t := elapsed.Seconds()
	p := robot.Pose{
		Pitch: clamp(float64(count-neutralCount)*c.PitchScale, -c.PitchMax, c.PitchMax),
		Yaw:   c.YawAmplitude * math.Sin(2*math.Pi*c.YawFrequency*t),
	}
	if antennas {
		amp := math.Min(float64(count)*c.AntennaScale, c.AntennaMax)
		a := amp * math.Sin(2*math.Pi*c.AntennaFrequency*t)
		p.LeftAntenna, p.RightAntenna = a, -a
	}
	return p
}

// Stats counts pose writes.
type Stats struct {
	Poses    uint64
	Failures uint64
}

// Reactor follows the broadcast finger count and drives a Poser at a fixed
// rate. It is registered with the hub like any other client; Send only
// records the count so the tracking loop never waits on the servos.
type Reactor struct {
	poser    robot.Poser
	antennas func() bool
	cfg      Config
	log      *slog.Logger

	count     atomic.Int64
	done      chan struct{}
	closeOnce sync.Once

	poses    atomic.Uint64
	failures atomic.Uint64
}

// New returns a Reactor for p. antennas reports whether the antennas are
// enabled, e.g. relay.Relay.AntennasEnabled.
func New(p robot.Poser, antennas func() bool, cfg Config) *Reactor {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if antennas == nil {
		antennas = func() bool { return false }
	}
	return &Reactor{
		poser:    p,
		antennas: antennas,
		cfg:      cfg,
		log:      cfg.Logger,
		done:     make(chan struct{}),
	}
}

// Send records the total finger count of s.
func (r *Reactor) Send(_ context.Context, s hand.Snapshot) error {
	r.count.Store(int64(s.TotalFingers))
	return nil
}

// Close stops Run.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

// Count returns the last finger count received.
func (r *Reactor) Count() int {
	return int(r.count.Load())
}

func (r *Reactor) Stats() Stats {
	return Stats{Poses: r.poses.Load(), Failures: r.failures.Load()}
}

// Run writes a pose every interval until ctx is canceled or Close is
// called. A failed write is logged and the next tick tries again.
func (r *Reactor) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	r.log.Info("head reaction started", "interval", r.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case now := <-ticker.C:
			r.step(ctx, now.Sub(start))
		}
	}
}

func (r *Reactor) step(ctx context.Context, elapsed time.Duration) {
	pose := r.cfg.Pose(r.Count(), elapsed, r.antennas())

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	if err := r.poser.SetPose(ctx, pose); err != nil {
		// one line per second at most while the servos keep failing
		if n := r.failures.Add(1); n == 1 || n%uint64(time.Second/r.cfg.Interval+1) == 0 {
			r.log.Warn("failed to set head pose", "error", err, "failures", n)
		}
		return
	}
	r.poses.Add(1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
