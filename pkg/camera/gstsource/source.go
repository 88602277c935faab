// Package gstsource captures camera frames through a GStreamer pipeline.
package gstsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const sinkName = "frames"

// Source is a camera.Source backed by a running GStreamer pipeline.
type Source struct {
	cfg      camera.Config
	latest   *camera.Latest
	pipeline *gst.Pipeline
	log      *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// Open builds the capture pipeline and starts it.
func Open(cfg camera.Config, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	gst.Init(nil)

	launch := cfg.Pipeline(sinkName)
	log.Debug("creating capture pipeline", "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, fmt.Errorf("failed to find appsink: %w", err)
	}

	s := &Source{
		cfg:      cfg,
		latest:   camera.NewLatest(),
		pipeline: pipeline,
		log:      log,
	}
	app.SinkFromElement(elem).SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.monitor(ctx)

	log.Info("camera started",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)
	return s, nil
}

func (s *Source) Next(ctx context.Context) (camera.Frame, error) {
	return s.latest.Next(ctx)
}

// Close stops the pipeline. Pending Next calls return camera.ErrSourceClosed.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			s.closeErr = fmt.Errorf("failed to stop pipeline: %w", err)
		}
		s.latest.Close()
		s.log.Info("camera stopped",
			"frames", s.frames.Load(),
			"bytes", s.bytes.Load(),
			"skipped", s.latest.Skipped(),
		)
	})
	return s.closeErr
}

func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.log.Warn("failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.log.Warn("failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	s.frames.Add(1)
	s.bytes.Add(uint64(len(frameData)))
	s.latest.Put(camera.Frame{
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	})
	return gst.FlowOK
}

// monitor watches the pipeline bus. End of stream or a pipeline error
// closes the frame holder, which the tracking loop treats as fatal.
func (s *Source) monitor(ctx context.Context) {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.log.Warn("camera end of stream", "device", s.cfg.Device)
			s.latest.CloseWithError(fmt.Errorf("end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.log.Error("camera pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			s.latest.CloseWithError(fmt.Errorf("pipeline error: %w", gerr))
			return
		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				s.log.Debug("camera pipeline state changed", "from", old, "to", new)
			}
		}
	}
}
