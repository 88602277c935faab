// Package fingercount counts raised fingers on a live camera feed and lets
// the viewers of that count steer a small robot head.
//
// A tracking loop samples the camera at a fixed rate, runs a hand landmark
// model in a worker process and publishes one snapshot per tick to every
// connected client. Clients send movement, antenna and sound commands back,
// which a relay forwards to the robot one at a time.
//
// # Installation
//
//	go install github.com/gwillem/fingercount/cmd/fingercount@latest
//
// # Usage
//
// Find and calibrate the robot head, then start the service:
//
//	fingercount setup
//	fingercount serve
//
// Watch the count from another terminal, steering with the arrow keys:
//
//	fingercount watch --url http://localhost:8000
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/fingercount: CLI with serve, watch and setup commands
//   - pkg/hand: landmarks, finger counting and snapshots
//   - pkg/camera: frame source and GStreamer capture
//   - pkg/inference: landmark worker process
//   - pkg/tracking: fixed-rate tracking loop
//   - pkg/broadcast: snapshot fan-out to clients
//   - pkg/relay: serialized command forwarding
//   - pkg/reaction: head pose that follows the finger count
//   - pkg/robot: servo head, calibration and simulation
//   - pkg/protocol: wire messages
//   - pkg/server: HTTP and WebSocket API
//   - pkg/mqttbridge: optional MQTT transport
//   - pkg/watch: reconnecting client, poller and command client
//   - pkg/config: YAML configuration
package fingercount
