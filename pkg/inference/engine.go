// Package inference runs the hand landmark model on camera frames.
package inference

import (
	"context"
	"errors"

	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/gwillem/fingercount/pkg/hand"
)

// ErrEngineLost is returned once the engine can no longer serve requests.
var ErrEngineLost = errors.New("inference engine lost")

// Engine detects hands in a frame. An empty result means no hands.
type Engine interface {
	Infer(ctx context.Context, f camera.Frame) ([]hand.Detection, error)
	Close() error
}
