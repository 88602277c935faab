package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/fingercount/pkg/robot"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.Tracking.Interval(); got != 100*time.Millisecond {
		t.Errorf("Interval() = %v, want 100ms", got)
	}
	if cfg.Server.ClientQueue != 8 {
		t.Errorf("ClientQueue = %d, want 8", cfg.Server.ClientQueue)
	}
	if cfg.Inference.MaxHands != 2 {
		t.Errorf("MaxHands = %d, want 2", cfg.Inference.MaxHands)
	}
	if got := cfg.Relay.HoldTimeout(); got != 5*time.Second {
		t.Errorf("HoldTimeout() = %v, want 5s", got)
	}
	if !cfg.Reaction.Enabled || cfg.Reaction.Interval() != 20*time.Millisecond {
		t.Errorf("reaction = %+v, want enabled at 50Hz", cfg.Reaction)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
tracking:
  hz: 20
camera:
  device: /dev/video2
robot:
  port: /dev/ttyACM0
mqtt:
  enabled: true
  encoding: msgpack
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracking.Hz != 20 {
		t.Errorf("Hz = %v, want 20", cfg.Tracking.Hz)
	}
	if cfg.Camera.Device != "/dev/video2" {
		t.Errorf("Device = %q", cfg.Camera.Device)
	}
	// untouched fields keep their defaults
	if cfg.Camera.Width != 640 || cfg.Server.Addr != ":8000" {
		t.Errorf("defaults lost: width=%d addr=%q", cfg.Camera.Width, cfg.Server.Addr)
	}
	if cfg.Robot.Port != "/dev/ttyACM0" {
		t.Errorf("Robot.Port = %q", cfg.Robot.Port)
	}
	if cfg.MQTT.Encoding != "msgpack" || cfg.MQTT.Topics.State != "fingercount/state" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero hz", "tracking:\n  hz: 0\n", "tracking.hz"},
		{"too fast", "tracking:\n  hz: 500\n", "tracking.hz"},
		{"no command", "inference:\n  command: []\n", "inference.command"},
		{"confidence", "inference:\n  min_detection_confidence: 1.5\n", "min_detection_confidence"},
		{"encoding", "mqtt:\n  enabled: true\n  encoding: xml\n", "mqtt.encoding"},
		{"reaction rate", "reaction:\n  rate_hz: 1000\n", "reaction.rate_hz"},
		{"reaction amplitude", "reaction:\n  antenna_max: -1\n", "reaction.pitch_max"},
		{"syntax", "tracking: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)

	cfg := Default()
	cfg.Robot.Port = "/dev/ttyUSB0"
	cfg.Robot.Calibration = robot.DefaultCalibration()
	cfg.Tracking.Hz = 15
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	got, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if got.Robot.Port != "/dev/ttyUSB0" || got.Tracking.Hz != 15 {
		t.Errorf("got port=%q hz=%v", got.Robot.Port, got.Tracking.Hz)
	}
	if !got.Robot.IsCalibrated() {
		t.Error("calibration lost")
	}
	if got.Robot.Calibration[robot.HeadTilt].ID != 2 {
		t.Errorf("head_tilt id = %d, want 2", got.Robot.Calibration[robot.HeadTilt].ID)
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	_, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}
