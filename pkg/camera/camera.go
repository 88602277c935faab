// Package camera provides the frames the tracking loop runs inference on.
package camera

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is returned once a source can no longer produce frames:
// the device went away, the pipeline hit end of stream or Close was called.
var ErrSourceClosed = errors.New("frame source closed")

// Frame is one captured image. Data holds packed RGB24 pixels.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// Source yields the newest frame not yet returned.
type Source interface {
	// Next blocks until a frame newer than the previous one is available
	// or ctx is done. Frames captured in between are skipped.
	Next(ctx context.Context) (Frame, error)
	Close() error
}
