package robot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sim is an in-memory Actuator. It tracks pose and antenna state the way
// Head does, without hardware.
type Sim struct {
	// Delay simulates motion time for every call.
	Delay time.Duration
	Log   *slog.Logger

	mu       sync.Mutex
	pan      float64
	tilt     float64
	antennas bool
	moves    []Direction
	sounds   int
	pose     Pose
	poses    int
	failNext error
	closed   bool
}

// NewSim returns a simulated robot with antennas enabled, as the real robot
// starts after its greeting.
func NewSim() *Sim {
	return &Sim{antennas: true}
}

// FailNext makes the next call return err wrapped in an ActuatorError.
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Sim) Move(ctx context.Context, dir Direction) error {
	if err := s.wait(ctx); err != nil {
		return &ActuatorError{Op: "move", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return &ActuatorError{Op: "move", Err: err}
	}
	switch dir {
	case Up:
		s.tilt++
	case Down:
		s.tilt--
	case Left:
		s.pan++
	case Right:
		s.pan--
	default:
		return &ActuatorError{Op: "move", Err: ErrUnknownDirection}
	}
	s.moves = append(s.moves, dir)
	s.logger().Debug("sim move", "direction", dir, "pan", s.pan, "tilt", s.tilt)
	return nil
}

func (s *Sim) SetAntennas(ctx context.Context, enabled bool) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return s.Antennas(), &ActuatorError{Op: "set_antennas", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return s.antennas, &ActuatorError{Op: "set_antennas", Err: err}
	}
	s.antennas = enabled
	s.logger().Debug("sim antennas", "enabled", enabled)
	return s.antennas, nil
}

func (s *Sim) PlaySound(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return &ActuatorError{Op: "play_sound", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return &ActuatorError{Op: "play_sound", Err: err}
	}
	s.sounds++
	s.logger().Debug("sim sound", "count", s.sounds)
	return nil
}

// SetPose records the pose. It does not consume FailNext, which is meant
// for relayed commands.
func (s *Sim) SetPose(ctx context.Context, p Pose) error {
	if err := ctx.Err(); err != nil {
		return &ActuatorError{Op: "set_pose", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.poses++
	return nil
}

// Pose returns the last pose set and how many were set in total.
func (s *Sim) Pose() (Pose, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, s.poses
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Moves returns the directions executed so far.
func (s *Sim) Moves() []Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Direction(nil), s.moves...)
}

// Sounds returns how many sounds were played.
func (s *Sim) Sounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sounds
}

// Antennas returns the current antenna state.
func (s *Sim) Antennas() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.antennas
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sim) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Sim) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.Delay):
		return nil
	}
}

func (s *Sim) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
