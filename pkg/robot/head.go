package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Normalized antenna targets.
const (
	antennaRaised = 50.0
	antennaRest   = 0.0
)

// HeadConfig configures a servo-driven head.
type HeadConfig struct {
	Port        string
	Calibration Calibration
	// Step is how far one Move command nudges pan or tilt, in normalized units.
	Step float64
	// Limit bounds pan and tilt to [-Limit, Limit].
	Limit   float64
	Sounder Sounder
	Logger  *slog.Logger
}

// Head is an Actuator backed by four feetech STS servos: pan, tilt and two antennas.
type Head struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
	sounder     Sounder
	step        float64
	limit       float64
	log         *slog.Logger

	mu       sync.Mutex
	target   map[MotorName]float64
	antennas bool
}

// NewHead opens the servo bus, reads the current pose and enables torque.
func NewHead(ctx context.Context, cfg HeadConfig) (*Head, error) {
	if cfg.Calibration == nil {
		cfg.Calibration = DefaultCalibration()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}
	if cfg.Step <= 0 {
		cfg.Step = 5
	}
	if cfg.Limit <= 0 || cfg.Limit > 100 {
		cfg.Limit = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	h := &Head{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, cfg.Calibration.MotorIDs()...),
		calibration: cfg.Calibration,
		sounder:     cfg.Sounder,
		step:        cfg.Step,
		limit:       cfg.Limit,
		log:         cfg.Logger,
	}

	positions, err := h.readPositions(ctx)
	if err != nil {
		bus.Close()
		return nil, err
	}
	h.target = positions
	h.antennas = positions[LeftAntenna] > antennaRaised/2

	if err := h.group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable torque: %w", err)
	}
	return h, nil
}

// Close disables torque and closes the bus. Both steps run even if one fails.
func (h *Head) Close() error {
	var errs []error
	if err := h.group.DisableAll(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("disable torque: %w", err))
	}
	if err := h.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	return errors.Join(errs...)
}

// Move nudges the head one step in the given direction.
func (h *Head) Move(ctx context.Context, dir Direction) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	pan, tilt := h.target[HeadPan], h.target[HeadTilt]
	switch dir {
	case Up:
		tilt += h.step
	case Down:
		tilt -= h.step
	case Left:
		pan += h.step
	case Right:
		pan -= h.step
	default:
		return &ActuatorError{Op: "move", Err: fmt.Errorf("%w: %q", ErrUnknownDirection, dir)}
	}
	next := map[MotorName]float64{
		HeadPan:  clamp(pan, -h.limit, h.limit),
		HeadTilt: clamp(tilt, -h.limit, h.limit),
	}
	if err := h.writePositions(ctx, next); err != nil {
		return &ActuatorError{Op: "move", Err: err}
	}
	h.target[HeadPan], h.target[HeadTilt] = next[HeadPan], next[HeadTilt]
	return nil
}

// SetAntennas raises the antennas when enabled and parks them otherwise.
func (h *Head) SetAntennas(ctx context.Context, enabled bool) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pos := antennaRest
	if enabled {
		pos = antennaRaised
	}
	if err := h.writePositions(ctx, map[MotorName]float64{
		LeftAntenna:  pos,
		RightAntenna: -pos,
	}); err != nil {
		return h.antennas, &ActuatorError{Op: "set_antennas", Err: err}
	}
	h.target[LeftAntenna], h.target[RightAntenna] = pos, -pos
	h.antennas = enabled
	return h.antennas, nil
}

// Antennas returns the last antenna state the head reached.
func (h *Head) Antennas() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.antennas
}

// SetPose offsets the head and antennas from their current targets. The
// targets themselves are left alone, so the next pose starts from the same
// base and Move keeps working underneath.
func (h *Head) SetPose(ctx context.Context, p Pose) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := map[MotorName]float64{
		HeadPan:      clamp(h.target[HeadPan]+h.degrees(HeadPan, p.Yaw), -h.limit, h.limit),
		HeadTilt:     clamp(h.target[HeadTilt]+h.degrees(HeadTilt, p.Pitch), -h.limit, h.limit),
		LeftAntenna:  h.target[LeftAntenna] + h.degrees(LeftAntenna, p.LeftAntenna),
		RightAntenna: h.target[RightAntenna] + h.degrees(RightAntenna, p.RightAntenna),
	}
	if err := h.writePositions(ctx, next); err != nil {
		return &ActuatorError{Op: "set_pose", Err: err}
	}
	return nil
}

func (h *Head) degrees(name MotorName, deg float64) float64 {
	return h.calibration[name].DegreesToNorm(deg)
}

// PlaySound plays the configured sound.
func (h *Head) PlaySound(ctx context.Context) error {
	if h.sounder == nil {
		return &ActuatorError{Op: "play_sound", Err: ErrNoSound}
	}
	if err := h.sounder.Play(ctx); err != nil {
		return &ActuatorError{Op: "play_sound", Err: err}
	}
	return nil
}

// Greet waves the antennas and parks them again.
func (h *Head) Greet(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	wave := []float64{antennaRaised, -antennaRaised, antennaRaised, antennaRest}
	for _, a := range wave {
		if err := h.writePositions(ctx, map[MotorName]float64{
			LeftAntenna:  a,
			RightAntenna: -a,
		}); err != nil {
			return &ActuatorError{Op: "greet", Err: err}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	h.target[LeftAntenna], h.target[RightAntenna] = antennaRest, antennaRest
	h.antennas = false
	h.log.Info("startup gesture complete")
	return nil
}

// readPositions reads current positions from all servos.
// Returns normalized positions in the range [-100, 100].
func (h *Head) readPositions(ctx context.Context) (map[MotorName]float64, error) {
	raw, err := h.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[MotorName]float64, len(raw))
	for id, r := range raw {
		name, cal, ok := h.calibration.ByID(id)
		if !ok {
			continue
		}
		positions[name] = cal.Normalize(r)
	}
	return positions, nil
}

// writePositions writes normalized targets for the given servos.
func (h *Head) writePositions(ctx context.Context, positions map[MotorName]float64) error {
	raw := make(feetech.PositionMap, len(positions))
	for name, norm := range positions {
		cal, ok := h.calibration[name]
		if !ok {
			continue
		}
		raw[cal.ID] = cal.Denormalize(norm)
	}

	if err := h.group.SetPositions(ctx, raw); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}
