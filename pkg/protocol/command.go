package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/robot"
)

// ErrMalformedCommand is returned for messages that cannot become a command.
var ErrMalformedCommand = errors.New("malformed command")

// Decode parses a client message. The type is read first; the remaining
// fields are only decoded for command types, so other messages are returned
// with just their Type set.
func Decode(enc Encoding, data []byte) (Message, error) {
	var env struct {
		Type MsgType `json:"type"`
	}
	if err := enc.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	}
	m := Message{Type: env.Type}
	if !m.IsCommand() {
		return m, nil
	}
	if err := enc.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return m, nil
}

// IsCommand reports whether the message type is one the server acts on.
// Other types are ignored.
func (m Message) IsCommand() bool {
	switch m.Type {
	case MsgRobotControl, MsgAntennas, MsgPlaySound:
		return true
	}
	return false
}

// Command converts a command message for the relay.
func (m Message) Command(source string, now time.Time) (relay.Command, error) {
	var cmd relay.Command
	switch m.Type {
	case MsgRobotControl:
		dir, err := robot.ParseDirection(m.Direction)
		if err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		edge, err := relay.ParseEdge(m.Edge)
		if err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		cmd = relay.Move(dir)
		cmd.Edge = edge
	case MsgAntennas:
		if m.Enabled == nil {
			return cmd, fmt.Errorf("%w: antennas requires enabled", ErrMalformedCommand)
		}
		cmd = relay.SetAntennas(*m.Enabled)
	case MsgPlaySound:
		cmd = relay.PlaySound()
	default:
		return cmd, fmt.Errorf("%w: %q is not a command", ErrMalformedCommand, m.Type)
	}

	cmd.Source = source
	cmd.IssuedAt = now
	if m.Timestamp > 0 {
		cmd.IssuedAt = time.UnixMilli(m.Timestamp)
	}
	return cmd, nil
}

// ResultReply acknowledges a relayed command.
func ResultReply(m Message, res relay.Result) Reply {
	return Reply{
		Type:            MsgCommandResult,
		ID:              m.ID,
		Command:         m.Type,
		Forwarded:       res.Forwarded,
		AntennasEnabled: res.AntennasEnabled,
	}
}

// ErrorReply reports a failed command. code is a short machine-readable
// reason such as "malformed_command".
func ErrorReply(m Message, code string, err error) Reply {
	return Reply{
		Type:    MsgError,
		ID:      m.ID,
		Command: m.Type,
		Error:   code,
		Message: err.Error(),
	}
}
