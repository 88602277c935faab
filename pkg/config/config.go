package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gwillem/fingercount/pkg/robot"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "fingercount.yml"

// Config holds the complete service configuration
type Config struct {
	Camera           CameraConfig    `yaml:"camera"`
	Inference        InferenceConfig `yaml:"inference"`
	Tracking         TrackingConfig  `yaml:"tracking"`
	Server           ServerConfig    `yaml:"server"`
	Relay            RelayConfig     `yaml:"relay"`
	Robot            robot.Config    `yaml:"robot"`
	Reaction         ReactionConfig  `yaml:"reaction"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Device string `yaml:"device"` // e.g. /dev/video0
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Flip   bool   `yaml:"flip"` // mirror horizontally, selfie view
}

// InferenceConfig contains hand landmark worker settings
type InferenceConfig struct {
	Command                []string `yaml:"command"`
	MaxHands               int      `yaml:"max_hands"`
	MinDetectionConfidence float64  `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64  `yaml:"min_tracking_confidence"`
	TimeoutMS              int      `yaml:"timeout_ms"`
}

// TrackingConfig contains loop settings
type TrackingConfig struct {
	Hz float64 `yaml:"hz"`
}

// ServerConfig contains HTTP and WebSocket settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	ClientQueue    int      `yaml:"client_queue"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RelayConfig contains command relay settings
type RelayConfig struct {
	Queue             int `yaml:"queue"`
	ActuatorTimeoutMS int `yaml:"actuator_timeout_ms"`
	HoldTimeoutMS     int `yaml:"hold_timeout_ms"` // held moves without a stop edge expire
}

// ReactionConfig contains the settings of the head pose that follows the
// finger count. Angles are in degrees, frequencies in Hz.
type ReactionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	RateHz           float64 `yaml:"rate_hz"`
	PitchScale       float64 `yaml:"pitch_scale"`
	PitchMax         float64 `yaml:"pitch_max"`
	YawAmplitude     float64 `yaml:"yaw_amplitude"`
	YawFrequency     float64 `yaml:"yaw_frequency"`
	AntennaScale     float64 `yaml:"antenna_scale"`
	AntennaMax       float64 `yaml:"antenna_max"`
	AntennaFrequency float64 `yaml:"antenna_frequency"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Encoding string     `yaml:"encoding"` // json, msgpack
	QoS      byte       `yaml:"qos"`
	Topics   MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	State    string `yaml:"state"`
	Commands string `yaml:"commands"`
	Results  string `yaml:"results"` // command replies; empty disables them
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
			Flip:   true,
		},
		Inference: InferenceConfig{
			Command:                []string{"python3", "scripts/hand_worker.py"},
			MaxHands:               2,
			MinDetectionConfidence: 0.7,
			MinTrackingConfidence:  0.5,
			TimeoutMS:              500,
		},
		Tracking: TrackingConfig{Hz: 10},
		Server: ServerConfig{
			Addr:           ":8000",
			ClientQueue:    8,
			WriteTimeoutMS: 1000,
			AllowedOrigins: []string{"*"},
		},
		Relay: RelayConfig{
			Queue:             32,
			ActuatorTimeoutMS: 2000,
			HoldTimeoutMS:     5000,
		},
		Robot: robot.Config{
			Step:  5,
			Limit: 60,
			Greet: true,
		},
		Reaction: ReactionConfig{
			Enabled:          true,
			RateHz:           50,
			PitchScale:       4,
			PitchMax:         20,
			YawAmplitude:     15,
			YawFrequency:     0.1,
			AntennaScale:     5,
			AntennaMax:       45,
			AntennaFrequency: 0.5,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "fingercount",
			Encoding: "json",
			Topics: MQTTTopics{
				State:    "fingercount/state",
				Commands: "fingercount/commands",
				Results:  "fingercount/results",
			},
		},
		ShutdownTimeoutS: 5,
	}
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Interval is the tracking loop period.
func (t TrackingConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / t.Hz)
}

func (i InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutMS) * time.Millisecond
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (r RelayConfig) ActuatorTimeout() time.Duration {
	return time.Duration(r.ActuatorTimeoutMS) * time.Millisecond
}

func (r RelayConfig) HoldTimeout() time.Duration {
	return time.Duration(r.HoldTimeoutMS) * time.Millisecond
}

// Interval is the time between two pose updates.
func (r ReactionConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / r.RateHz)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
