package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Latest holds only the newest frame put into it. A producer calls Put at
// capture rate; a single consumer calls Next at its own rate and never sees
// a frame twice.
type Latest struct {
	mu      sync.Mutex
	frame   Frame
	seq     uint64
	taken   uint64
	skipped uint64
	changed chan struct{} // closed and replaced on every Put
	err     error
}

func NewLatest() *Latest {
	return &Latest{changed: make(chan struct{})}
}

// Put stores f as the newest frame, assigning its sequence number.
func (l *Latest) Put(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	l.seq++
	f.Seq = l.seq
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	l.frame = f
	close(l.changed)
	l.changed = make(chan struct{})
}

// CloseWithError marks the holder as finished. Pending and later Next
// calls return ErrSourceClosed, wrapping cause if given.
func (l *Latest) CloseWithError(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if cause != nil {
		l.err = fmt.Errorf("%w: %w", ErrSourceClosed, cause)
	} else {
		l.err = ErrSourceClosed
	}
	close(l.changed)
}

// Next returns the newest frame with a sequence number above the last one
// returned.
func (l *Latest) Next(ctx context.Context) (Frame, error) {
	for {
		l.mu.Lock()
		if l.err != nil {
			err := l.err
			l.mu.Unlock()
			return Frame{}, err
		}
		if l.seq > l.taken {
			l.skipped += l.seq - l.taken - 1
			l.taken = l.seq
			f := l.frame
			l.mu.Unlock()
			return f, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Skipped returns how many frames were overwritten before being taken.
func (l *Latest) Skipped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

func (l *Latest) Close() error {
	l.CloseWithError(nil)
	return nil
}
