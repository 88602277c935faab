package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Direction is a head movement requested by a client.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ErrUnknownDirection is returned by ParseDirection for anything outside up/down/left/right.
var ErrUnknownDirection = errors.New("unknown direction")

// ParseDirection parses a direction name, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Actuator is the robot driver the command relay forwards to.
// Implementations may block for the duration of a motion.
type Actuator interface {
	Move(ctx context.Context, dir Direction) error
	// SetAntennas returns the antenna state the robot actually ended up in.
	SetAntennas(ctx context.Context, enabled bool) (bool, error)
	PlaySound(ctx context.Context) error
	Close() error
}

// Pose is a head and antenna target in degrees, relative to the pose the
// head was last moved to. Positive Yaw turns left, positive Pitch looks up.
type Pose struct {
	Yaw          float64
	Pitch        float64
	LeftAntenna  float64
	RightAntenna float64
}

// Poser is implemented by actuators that can follow a continuous pose
// target in addition to discrete commands.
type Poser interface {
	SetPose(ctx context.Context, p Pose) error
}

// ErrOffline is returned when no robot connection is available.
var ErrOffline = errors.New("robot offline")

// ActuatorError reports a rejected or failed actuator call.
type ActuatorError struct {
	Op  string
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// Offline is an Actuator for when the robot could not be reached.
// Every command fails with ErrOffline so callers are told instead of the
// command being dropped.
type Offline struct{}

func (Offline) Move(context.Context, Direction) error {
	return &ActuatorError{Op: "move", Err: ErrOffline}
}

func (Offline) SetAntennas(context.Context, bool) (bool, error) {
	return false, &ActuatorError{Op: "set_antennas", Err: ErrOffline}
}

func (Offline) PlaySound(context.Context) error {
	return &ActuatorError{Op: "play_sound", Err: ErrOffline}
}

func (Offline) Close() error { return nil }
