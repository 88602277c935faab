// Package tracking runs the fixed-rate acquire, infer, count and publish loop.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/inference"
)

// Publisher receives one snapshot per tick. Publish must not block.
type Publisher interface {
	Publish(s hand.Snapshot)
}

// Config holds configuration for the loop.
type Config struct {
	Hz     float64 // default 10
	Logger *slog.Logger
}

// Stats counts loop activity since Run started.
type Stats struct {
	Ticks               uint64 `json:"ticks"`
	Published           uint64 `json:"published"`
	AcquisitionFailures uint64 `json:"acquisition_failures"`
	InferenceFailures   uint64 `json:"inference_failures"`
	DroppedTicks        uint64 `json:"dropped_ticks"`
}

// Loop produces a snapshot every tick. A tick that cannot produce a new
// snapshot republishes the previous one, so subscribers see a steady rate.
type Loop struct {
	source   camera.Source
	engine   inference.Engine
	pub      Publisher
	hz       float64
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	running bool
	last    hand.Snapshot
	streak  int // consecutive failed ticks

	ticks       atomic.Uint64
	published   atomic.Uint64
	acqFailures atomic.Uint64
	infFailures atomic.Uint64
	dropped     atomic.Uint64
}

// New creates a loop. It does not take ownership of source or engine.
func New(source camera.Source, engine inference.Engine, pub Publisher, cfg Config) *Loop {
	if cfg.Hz <= 0 {
		cfg.Hz = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		source:   source,
		engine:   engine,
		pub:      pub,
		hz:       cfg.Hz,
		interval: time.Duration(float64(time.Second) / cfg.Hz),
		log:      cfg.Logger,
	}
}

// Hz returns the loop frequency.
func (l *Loop) Hz() float64 {
	return l.hz
}

// Last returns the most recent snapshot produced.
func (l *Loop) Last() hand.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:               l.ticks.Load(),
		Published:           l.published.Load(),
		AcquisitionFailures: l.acqFailures.Load(),
		InferenceFailures:   l.infFailures.Load(),
		DroppedTicks:        l.dropped.Load(),
	}
}

// Run executes the loop until ctx is done or the pipeline fails fatally.
// It returns ctx.Err() on cancellation and a *FatalPipelineError when the
// frame source or the engine is lost.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("already running")
	}
	l.running = true
	l.last = hand.NewSnapshot(0, nil, time.Now())
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.log.Info("tracking started", "hz", l.hz)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("tracking stopped", "ticks", l.ticks.Load(), "dropped_ticks", l.dropped.Load())
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := l.step(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				l.log.Error("tracking stopped", "error", err)
				return err
			}
			l.skipMissed(ticker, time.Since(start))
		}
	}
}

// skipMissed discards ticks that elapsed while a step ran so they are not
// executed back to back afterwards.
func (l *Loop) skipMissed(ticker *time.Ticker, elapsed time.Duration) {
	missed := uint64(elapsed / l.interval)
	select {
	case <-ticker.C:
		if missed == 0 {
			missed = 1
		}
	default:
	}
	if missed > 0 {
		l.dropped.Add(missed)
		l.log.Debug("tick overran interval", "elapsed", elapsed, "dropped", missed)
	}
}

func (l *Loop) step(ctx context.Context) error {
	tick := l.ticks.Add(1)

	acqCtx, cancel := context.WithTimeout(ctx, l.interval)
	frame, err := l.source.Next(acqCtx)
	cancel()
	if err != nil {
		if errors.Is(err, camera.ErrSourceClosed) {
			return &FatalPipelineError{Stage: "acquire", Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.acqFailures.Add(1)
		l.fail(&AcquisitionError{Err: err})
		return nil
	}

	dets, err := l.engine.Infer(ctx, frame)
	if err != nil {
		if errors.Is(err, inference.ErrEngineLost) {
			return &FatalPipelineError{Stage: "infer", Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.infFailures.Add(1)
		l.fail(&InferenceError{FrameSeq: frame.Seq, Err: err})
		return nil
	}

	dets = hand.ResolveHandedness(dets)
	hands := make([]hand.Observation, 0, len(dets))
	for i, d := range dets {
		obs, err := hand.Observe(d)
		if err != nil {
			l.infFailures.Add(1)
			l.fail(&InferenceError{FrameSeq: frame.Seq, Err: fmt.Errorf("hand %d: %w", i, err)})
			return nil
		}
		hands = append(hands, obs)
	}

	l.mu.Lock()
	snap := hand.NewSnapshot(tick, hands, frame.Timestamp)
	l.last = snap
	recovered := l.streak
	l.streak = 0
	l.mu.Unlock()

	if recovered > 0 {
		l.log.Info("tracking recovered", "failed_ticks", recovered)
	}
	l.publish(snap)
	return nil
}

// fail logs a per-tick failure and republishes the previous snapshot.
// Only the first failure of a streak is logged as a warning.
func (l *Loop) fail(err error) {
	l.mu.Lock()
	l.streak++
	first := l.streak == 1
	prior := l.last
	l.mu.Unlock()

	if first {
		l.log.Warn("tracking tick failed, repeating last state", "error", err)
	} else {
		l.log.Debug("tracking tick failed", "error", err)
	}
	l.publish(prior)
}

func (l *Loop) publish(s hand.Snapshot) {
	l.pub.Publish(s)
	l.published.Add(1)
}
