package config

import (
	"fmt"
)

// Validate checks the configuration and fills zero values that have a
// sensible default.
func (c *Config) Validate() error {
	if c.Tracking.Hz <= 0 || c.Tracking.Hz > 100 {
		return fmt.Errorf("tracking.hz must be in (0, 100], got %v", c.Tracking.Hz)
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}

	if len(c.Inference.Command) == 0 {
		return fmt.Errorf("inference.command is required")
	}
	if c.Inference.MaxHands <= 0 {
		c.Inference.MaxHands = 2
	}
	for name, v := range map[string]float64{
		"min_detection_confidence": c.Inference.MinDetectionConfidence,
		"min_tracking_confidence":  c.Inference.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("inference.%s must be in [0, 1], got %v", name, v)
		}
	}
	if c.Inference.TimeoutMS <= 0 {
		c.Inference.TimeoutMS = 500
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ClientQueue <= 0 {
		c.Server.ClientQueue = 8
	}
	if c.Server.WriteTimeoutMS <= 0 {
		c.Server.WriteTimeoutMS = 1000
	}

	if c.Relay.Queue <= 0 {
		c.Relay.Queue = 32
	}
	if c.Relay.ActuatorTimeoutMS <= 0 {
		c.Relay.ActuatorTimeoutMS = 2000
	}
	if c.Relay.HoldTimeoutMS <= 0 {
		c.Relay.HoldTimeoutMS = 5000
	}

	if c.Robot.Calibration != nil {
		if err := c.Robot.Calibration.Validate(); err != nil {
			return fmt.Errorf("robot.calibration: %w", err)
		}
	}

	if c.Reaction.Enabled {
		if c.Reaction.RateHz <= 0 {
			c.Reaction.RateHz = 50
		}
		if c.Reaction.RateHz > 100 {
			return fmt.Errorf("reaction.rate_hz must be in (0, 100], got %v", c.Reaction.RateHz)
		}
		if c.Reaction.PitchMax < 0 || c.Reaction.AntennaMax < 0 {
			return fmt.Errorf("reaction.pitch_max and reaction.antenna_max must not be negative")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		switch c.MQTT.Encoding {
		case "":
			c.MQTT.Encoding = "json"
		case "json", "msgpack":
		default:
			return fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", c.MQTT.Encoding)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if c.MQTT.Topics.State == "" {
			c.MQTT.Topics.State = "fingercount/state"
		}
		if c.MQTT.Topics.Commands == "" {
			c.MQTT.Topics.Commands = "fingercount/commands"
		}
	}

	if c.ShutdownTimeoutS <= 0 {
		c.ShutdownTimeoutS = 5
	}
	return nil
}
