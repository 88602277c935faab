// Package protocol defines the messages exchanged with UI clients over
// WebSocket, HTTP and MQTT.
package protocol

import (
	"time"

	"github.com/gwillem/fingercount/pkg/hand"
)

type MsgType string

const (
	MsgFingerCount   MsgType = "finger_count"
	MsgRobotControl  MsgType = "robot_control"
	MsgAntennas      MsgType = "antennas"
	MsgPlaySound     MsgType = "play_sound"
	MsgCommandResult MsgType = "command_result"
	MsgError         MsgType = "error"
)

// HandState is the per-hand part of a state message.
type HandState struct {
	Handedness hand.Handedness `json:"handedness"`
	Fingers    int             `json:"fingers"`
}

// State is the server → client state message, one per tracking tick.
type State struct {
	Type          MsgType     `json:"type"`
	Total         int         `json:"total"`
	FingerCount   int         `json:"finger_count"` // same as Total, read by older clients
	HandsDetected int         `json:"hands_detected"`
	Hands         []HandState `json:"hands"`
	Timestamp     int64       `json:"timestamp"` // unix ms of frame capture
	Seq           uint64      `json:"seq,omitempty"`
}

// NewState renders a snapshot as a state message.
func NewState(s hand.Snapshot) State {
	st := State{
		Type:          MsgFingerCount,
		Total:         s.TotalFingers,
		FingerCount:   s.TotalFingers,
		HandsDetected: s.HandsDetected,
		Hands:         make([]HandState, 0, len(s.Hands)),
		Seq:           s.Seq,
	}
	if !s.Timestamp.IsZero() {
		st.Timestamp = s.Timestamp.UnixMilli()
	}
	for _, h := range s.Hands {
		st.Hands = append(st.Hands, HandState{Handedness: h.Handedness, Fingers: h.Fingers})
	}
	return st
}

// Time returns the capture time carried by the message.
func (s State) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Message is a client → server message. Fields are used according to Type.
type Message struct {
	Type      MsgType `json:"type"`
	ID        string  `json:"id,omitempty"` // echoed in the reply
	Direction string  `json:"direction,omitempty"`
	Edge      string  `json:"edge,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Reply answers a Message on the same connection.
type Reply struct {
	Type            MsgType `json:"type"`
	ID              string  `json:"id,omitempty"`
	Command         MsgType `json:"command,omitempty"`
	Forwarded       bool    `json:"forwarded"`
	AntennasEnabled bool    `json:"antennas_enabled"`
	Error           string  `json:"error,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// AntennasRequest is the body of POST /antennas.
type AntennasRequest struct {
	Enabled *bool `json:"enabled"`
}

// AntennasResponse is returned by GET and POST /antennas.
type AntennasResponse struct {
	AntennasEnabled bool `json:"antennas_enabled"`
}

// RobotControlRequest is the body of POST /robot_control.
type RobotControlRequest struct {
	Direction string `json:"direction"`
	Edge      string `json:"edge,omitempty"`
}

// FingerCountResponse is returned by GET /finger_count.
type FingerCountResponse struct {
	FingerCount int `json:"finger_count"`
}
