// Package relay forwards client commands to the robot actuator in arrival
// order on a single worker, independent of the tracking loop.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/fingercount/pkg/robot"
)

var (
	// ErrBusy is returned when the command queue is full.
	ErrBusy = errors.New("relay busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay closed")
)

// Config configures a Relay.
type Config struct {
	Queue           int           // default 32
	ActuatorTimeout time.Duration // default 2s
	HoldTimeout     time.Duration // default 5s, ends a hold whose stop never came
	Logger          *slog.Logger
}

// Stats counts command outcomes.
type Stats struct {
	Forwarded  uint64
	Suppressed uint64
	Failed     uint64
	Rejected   uint64
}

type request struct {
	ctx  context.Context
	cmd  Command
	done chan response
}

type response struct {
	result Result
	err    error
}

type heldKey struct {
	source string
	dir    robot.Direction
}

// Relay serializes commands onto one actuator.
type Relay struct {
	actuator    robot.Actuator
	timeout     time.Duration
	holdTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex // guards closing and sends on queue
	closing bool
	queue   chan *request
	done    chan struct{}

	heldMu sync.Mutex
	held   map[heldKey]time.Time // when the start edge was forwarded

	antennas atomic.Bool

	forwarded  atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
	rejected   atomic.Uint64
}

// New starts a relay worker for the actuator.
func New(a robot.Actuator, cfg Config) *Relay {
	if cfg.Queue <= 0 {
		cfg.Queue = 32
	}
	if cfg.ActuatorTimeout <= 0 {
		cfg.ActuatorTimeout = 2 * time.Second
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Relay{
		actuator:    a,
		timeout:     cfg.ActuatorTimeout,
		holdTimeout: cfg.HoldTimeout,
		log:         cfg.Logger,
		now:         time.Now,
		queue:       make(chan *request, cfg.Queue),
		done:        make(chan struct{}),
		held:        make(map[heldKey]time.Time),
	}
	if s, ok := a.(interface{ Antennas() bool }); ok {
		r.antennas.Store(s.Antennas())
	}
	go r.run()
	return r
}

// Submit queues cmd and waits for its result. Commands are executed in the
// order they were accepted. A full queue fails fast with ErrBusy.
func (r *Relay) Submit(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{Command: cmd}, err
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	req := &request{ctx: ctx, cmd: cmd, done: make(chan response, 1)}

	r.mu.RLock()
	if r.closing {
		r.mu.RUnlock()
		return Result{Command: cmd}, ErrClosed
	}
	select {
	case r.queue <- req:
	default:
		r.mu.RUnlock()
		r.rejected.Add(1)
		return Result{Command: cmd}, ErrBusy
	}
	r.mu.RUnlock()

	select {
	case resp := <-req.done:
		return resp.result, resp.err
	case <-ctx.Done():
		return Result{Command: cmd}, ctx.Err()
	}
}

// AntennasEnabled returns the last antenna state confirmed by the actuator.
func (r *Relay) AntennasEnabled() bool {
	return r.antennas.Load()
}

// Release drops every held move of a source, e.g. when its connection closes.
func (r *Relay) Release(source string) {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	for k := range r.held {
		if k.source == source {
			delete(r.held, k)
		}
	}
}

func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:  r.forwarded.Load(),
		Suppressed: r.suppressed.Load(),
		Failed:     r.failed.Load(),
		Rejected:   r.rejected.Load(),
	}
}

// Close stops accepting commands, fails queued ones with ErrClosed and
// waits for the command in flight. It does not close the actuator.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closing = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *Relay) run() {
	defer close(r.done)
	for req := range r.queue {
		if r.isClosing() {
			req.done <- response{result: Result{Command: req.cmd}, err: ErrClosed}
			continue
		}
		res, err := r.handle(req.ctx, req.cmd)
		req.done <- response{result: res, err: err}
	}
}

func (r *Relay) isClosing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

func (r *Relay) handle(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Command: cmd}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	switch cmd.Kind {
	case KindMove:
		key := heldKey{source: cmd.Source, dir: cmd.Direction}
		switch cmd.Edge {
		case EdgeStop:
			r.setHeld(key, false)
			r.suppressed.Add(1)
			return res, nil
		case EdgeStart:
			if r.isHeld(key) {
				r.suppressed.Add(1)
				r.log.Debug("suppressed repeated move", "source", cmd.Source, "direction", cmd.Direction)
				return res, nil
			}
		}
		if err := r.call(ctx, "move", func(ctx context.Context) error {
			return r.actuator.Move(ctx, cmd.Direction)
		}); err != nil {
			return res, err
		}
		if cmd.Edge == EdgeStart {
			r.setHeld(key, true)
		}
		res.Forwarded = true

	case KindSetAntennas:
		err := r.call(ctx, "set_antennas", func(ctx context.Context) error {
			state, err := r.actuator.SetAntennas(ctx, cmd.Enabled)
			if err == nil {
				r.antennas.Store(state)
			}
			return err
		})
		res.AntennasEnabled = r.antennas.Load()
		if err != nil {
			return res, err
		}
		res.Forwarded = true
		r.log.Info("antennas toggled", "enabled", res.AntennasEnabled, "source", cmd.Source)

	case KindPlaySound:
		if err := r.call(ctx, "play_sound", r.actuator.PlaySound); err != nil {
			return res, err
		}
		res.Forwarded = true
	}

	if cmd.Kind != KindSetAntennas {
		res.AntennasEnabled = r.antennas.Load()
	}
	return res, nil
}

// call runs one actuator operation under the actuator timeout and makes
// sure failures surface as *robot.ActuatorError.
func (r *Relay) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		r.forwarded.Add(1)
		return nil
	}
	r.failed.Add(1)
	var ae *robot.ActuatorError
	if !errors.As(err, &ae) {
		err = &robot.ActuatorError{Op: op, Err: err}
	}
	r.log.Warn("actuator command failed", "op", op, "error", err)
	return err
}

// isHeld reports whether k was started less than holdTimeout ago.
func (r *Relay) isHeld(k heldKey) bool {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	since, ok := r.held[k]
	if !ok {
		return false
	}
	if r.now().Sub(since) >= r.holdTimeout {
		delete(r.held, k)
		r.log.Debug("held move expired", "source", k.source, "direction", k.dir)
		return false
	}
	return true
}

func (r *Relay) setHeld(k heldKey, held bool) {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	if held {
		r.held[k] = r.now()
	} else {
		delete(r.held, k)
	}
}
