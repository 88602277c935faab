package robot

import (
	"context"
	"log/slog"
)

// Config holds the robot section of the configuration file.
type Config struct {
	Port         string      `yaml:"port"`
	Calibration  Calibration `yaml:"calibration,omitempty"`
	Step         float64     `yaml:"step"`
	Limit        float64     `yaml:"limit"`
	SoundCommand []string    `yaml:"sound_command,omitempty"`
	Greet        bool        `yaml:"greet"`
	Sim          bool        `yaml:"sim"`
}

// IsCalibrated returns true if the head has calibration data
func (c *Config) IsCalibrated() bool {
	return len(c.Calibration) > 0
}

// Connect returns the actuator described by cfg. A robot that cannot be
// reached is not fatal: the returned actuator then reports ErrOffline for
// every command.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) Actuator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Sim {
		log.Info("using simulated robot")
		sim := NewSim()
		sim.Log = log
		return sim
	}
	if cfg.Port == "" {
		log.Warn("no robot port configured, robot commands will fail")
		return Offline{}
	}

	var sounder Sounder
	if len(cfg.SoundCommand) > 0 {
		sounder = CommandSounder{Argv: cfg.SoundCommand}
	}
	head, err := NewHead(ctx, HeadConfig{
		Port:        cfg.Port,
		Calibration: cfg.Calibration,
		Step:        cfg.Step,
		Limit:       cfg.Limit,
		Sounder:     sounder,
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to connect to robot, continuing without it",
			"port", cfg.Port,
			"error", err,
		)
		return Offline{}
	}
	log.Info("connected to robot", "port", cfg.Port)

	if cfg.Greet {
		if err := head.Greet(ctx); err != nil {
			log.Warn("startup gesture failed", "error", err)
		}
	}
	return head
}
