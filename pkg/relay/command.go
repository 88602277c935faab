package relay

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gwillem/fingercount/pkg/robot"
)

// Kind identifies what a command asks the robot to do.
type Kind string

const (
	KindMove        Kind = "move"
	KindSetAntennas Kind = "set_antennas"
	KindPlaySound   Kind = "play_sound"
)

// Edge marks a move as the press or release of a held control. Commands
// without an edge are repeats, each forwarded once.
type Edge string

const (
	EdgeNone  Edge = ""
	EdgeStart Edge = "start"
	EdgeStop  Edge = "stop"
)

// ErrInvalidCommand is returned for commands that cannot be forwarded.
var ErrInvalidCommand = errors.New("invalid command")

func ParseEdge(s string) (Edge, error) {
	switch e := Edge(strings.ToLower(strings.TrimSpace(s))); e {
	case EdgeNone, EdgeStart, EdgeStop:
		return e, nil
	}
	return "", fmt.Errorf("%w: unknown edge %q", ErrInvalidCommand, s)
}

// Command is a client request for one robot action.
type Command struct {
	Kind      Kind
	Direction robot.Direction // KindMove
	Edge      Edge            // KindMove
	Enabled   bool            // KindSetAntennas
	Source    string          // client id, scopes held moves
	IssuedAt  time.Time
}

func Move(dir robot.Direction) Command {
	return Command{Kind: KindMove, Direction: dir}
}

func SetAntennas(enabled bool) Command {
	return Command{Kind: KindSetAntennas, Enabled: enabled}
}

func PlaySound() Command {
	return Command{Kind: KindPlaySound}
}

// Validate checks the command before it is queued.
func (c Command) Validate() error {
	switch c.Kind {
	case KindMove:
		if _, err := robot.ParseDirection(string(c.Direction)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		if _, err := ParseEdge(string(c.Edge)); err != nil {
			return err
		}
	case KindSetAntennas, KindPlaySound:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// Result describes what happened to a submitted command.
type Result struct {
	Command Command
	// Forwarded is false when the command was absorbed without an actuator
	// call: a repeated start edge or a stop edge.
	Forwarded bool
	// AntennasEnabled is the authoritative antenna state after the command.
	AntennasEnabled bool
}
