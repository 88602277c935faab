package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/gwillem/fingercount/pkg/camera/gstsource"
	"github.com/gwillem/fingercount/pkg/config"
	"github.com/gwillem/fingercount/pkg/inference"
	"github.com/gwillem/fingercount/pkg/mqttbridge"
	"github.com/gwillem/fingercount/pkg/protocol"
	"github.com/gwillem/fingercount/pkg/reaction"
	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/robot"
	"github.com/gwillem/fingercount/pkg/server"
	"github.com/gwillem/fingercount/pkg/tracking"
)

type ServeCommand struct {
	Addr string  `long:"addr" description:"Listen address (overrides server.addr)"`
	Hz   float64 `long:"hz" description:"Tracking rate in Hz (overrides tracking.hz)"`
	Sim  bool    `long:"sim" description:"Use a simulated robot"`
}

func (c *ServeCommand) Execute(args []string) error {
	log := newLogger(os.Stderr)
	slog.SetDefault(log)

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.Hz != 0 {
		cfg.Tracking.Hz = c.Hz
	}
	if c.Sim {
		cfg.Robot.Sim = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

// serve runs until ctx is canceled or the tracking loop or HTTP server
// fails, then releases everything in dependency order.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	actuator := robot.Connect(ctx, cfg.Robot, log.With("component", "robot"))
	rl := relay.New(actuator, relay.Config{
		Queue:           cfg.Relay.Queue,
		ActuatorTimeout: cfg.Relay.ActuatorTimeout(),
		HoldTimeout:     cfg.Relay.HoldTimeout(),
		Logger:          log.With("component", "relay"),
	})
	hub := broadcast.New(broadcast.Config{
		Queue:       cfg.Server.ClientQueue,
		SendTimeout: cfg.Server.WriteTimeout(),
		Logger:      log.With("component", "hub"),
	})
	releaseControl := func() error {
		return errors.Join(hub.Close(), rl.Close(), actuator.Close())
	}

	source, err := gstsource.Open(camera.Config{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
		Flip:   cfg.Camera.Flip,
	}, log.With("component", "camera"))
	if err != nil {
		return errors.Join(fmt.Errorf("open camera: %w", err), releaseControl())
	}

	engine, err := inference.StartWorker(inference.WorkerConfig{
		Command:                cfg.Inference.Command,
		MaxHands:               cfg.Inference.MaxHands,
		MinDetectionConfidence: cfg.Inference.MinDetectionConfidence,
		MinTrackingConfidence:  cfg.Inference.MinTrackingConfidence,
		Timeout:                cfg.Inference.Timeout(),
		Logger:                 log.With("component", "inference"),
	})
	if err != nil {
		return errors.Join(fmt.Errorf("start inference worker: %w", err), source.Close(), releaseControl())
	}

	loop := tracking.New(source, engine, hub, tracking.Config{
		Hz:     cfg.Tracking.Hz,
		Logger: log.With("component", "tracking"),
	})
	srv := server.New(hub, rl, server.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Server.WriteTimeout(),
		LoopStats:      loop.Stats,
		Logger:         log.With("component", "server"),
	})

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = startBridge(ctx, cfg.MQTT, hub, rl, log.With("component", "mqtt"))
		if err != nil {
			log.Error("mqtt bridge disabled", "error", err)
		}
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(loopCtx) }()
	reactionDone := startReaction(loopCtx, cfg.Reaction, actuator, hub, rl, log.With("component", "reaction"))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	log.Info("fingercount running",
		"addr", cfg.Server.Addr,
		"hz", loop.Hz(),
		"camera", cfg.Camera.Device,
	)

	var errs []error
	loopDone := false
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-loopErr:
		loopDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("tracking loop stopped", "error", err)
			errs = append(errs, err)
		}
	case err := <-srvErr:
		if err != nil {
			log.Error("http server stopped", "error", err)
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	cancelLoop()
	if !loopDone {
		if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	<-reactionDone
	if err := hub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close hub: %w", err))
	}
	if err := source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if err := engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close inference worker: %w", err))
	}
	if err := rl.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relay: %w", err))
	}
	if err := actuator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close robot: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mqtt: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// startReaction registers the head pose reaction with the hub when the
// actuator can follow a pose. The returned channel is closed once it stops.
func startReaction(ctx context.Context, cfg config.ReactionConfig, actuator robot.Actuator, hub *broadcast.Hub, rl *relay.Relay, log *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if !cfg.Enabled {
		close(done)
		return done
	}
	poser, ok := actuator.(robot.Poser)
	if !ok {
		log.Info("robot cannot follow a pose, head reaction disabled")
		close(done)
		return done
	}

	r := reaction.New(poser, rl.AntennasEnabled, reaction.Config{
		Interval:         cfg.Interval(),
		PitchScale:       cfg.PitchScale,
		PitchMax:         cfg.PitchMax,
		YawAmplitude:     cfg.YawAmplitude,
		YawFrequency:     cfg.YawFrequency,
		AntennaScale:     cfg.AntennaScale,
		AntennaMax:       cfg.AntennaMax,
		AntennaFrequency: cfg.AntennaFrequency,
		Logger:           log,
	})
	if _, err := hub.Register(r); err != nil {
		log.Error("head reaction disabled", "error", err)
		close(done)
		return done
	}
	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("head reaction stopped", "error", err)
		}
	}()
	return done
}

func startBridge(ctx context.Context, cfg config.MQTTConfig, hub *broadcast.Hub, rl *relay.Relay, log *slog.Logger) (*mqttbridge.Bridge, error) {
	enc, err := protocol.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	bridge, err := mqttbridge.New(hub, rl, mqttbridge.Config{
		Broker:       cfg.Broker,
		ClientID:     cfg.ClientID,
		Encoding:     enc,
		QoS:          cfg.QoS,
		StateTopic:   cfg.Topics.State,
		CommandTopic: cfg.Topics.Commands,
		ResultTopic:  cfg.Topics.Results,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	if err := bridge.Connect(ctx); err != nil {
		bridge.Close()
		return nil, err
	}
	return bridge, nil
}
