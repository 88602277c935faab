package robot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrNoSound is returned when no sound player is configured.
var ErrNoSound = errors.New("no sound player configured")

// Sounder plays the robot's sound.
type Sounder interface {
	Play(ctx context.Context) error
}

// CommandSounder plays a sound by running an external player, e.g.
// ["aplay", "sounds/wake_up.wav"].
type CommandSounder struct {
	Argv []string
}

func (s CommandSounder) Play(ctx context.Context) error {
	if len(s.Argv) == 0 {
		return ErrNoSound
	}
	out, err := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", s.Argv[0], err, out)
	}
	return nil
}
