package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/robot"
)

// Submitter accepts relay commands. *relay.Relay implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd relay.Command) (relay.Result, error)
}

// Reply codes carried in the error field of an error reply.
const (
	CodeMalformed = "malformed_command"
	CodeBusy      = "busy"
	CodeClosed    = "closed"
	CodeActuator  = "actuator_failure"
	CodeTimeout   = "timeout"
	CodeInternal  = "internal"
)

// ErrorCode classifies a command error.
func ErrorCode(err error) string {
	var actErr *robot.ActuatorError
	switch {
	case errors.Is(err, ErrMalformedCommand), errors.Is(err, relay.ErrInvalidCommand):
		return CodeMalformed
	case errors.Is(err, relay.ErrBusy):
		return CodeBusy
	case errors.Is(err, relay.ErrClosed):
		return CodeClosed
	case errors.As(err, &actErr):
		return CodeActuator
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeInternal
}

// Handle decodes one client message and relays it. ok is false when the
// message type is not a command; such messages are ignored and get no reply.
func Handle(ctx context.Context, s Submitter, enc Encoding, source string, data []byte, now time.Time) (reply Reply, ok bool) {
	m, err := Decode(enc, data)
	if err != nil {
		return ErrorReply(m, CodeMalformed, err), true
	}
	if !m.IsCommand() {
		return reply, false
	}
	cmd, err := m.Command(source, now)
	if err != nil {
		return ErrorReply(m, CodeMalformed, err), true
	}
	res, err := s.Submit(ctx, cmd)
	if err != nil {
		return ErrorReply(m, ErrorCode(err), err), true
	}
	return ResultReply(m, res), true
}
