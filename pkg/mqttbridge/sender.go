package mqttbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/protocol"
)

// stateSender publishes snapshots as state messages. Delivery is best
// effort: a failed publish is counted and logged but not returned, so the
// hub keeps the bridge registered. Connection loss detaches it instead.
type stateSender struct {
	pub     publisher
	topic   string
	qos     byte
	enc     protocol.Encoding
	log     *slog.Logger
	onSent  func()
	onError func()
}

func (s *stateSender) Send(ctx context.Context, snap hand.Snapshot) error {
	payload, err := s.enc.Marshal(protocol.NewState(snap))
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	token := s.pub.Publish(s.topic, s.qos, false, payload)
	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.onError()
		s.log.Debug("state not published", "topic", s.topic, "seq", snap.Seq, "error", err)
		return nil
	}
	s.onSent()
	return nil
}

// Close is a no-op; the bridge owns the MQTT connection.
func (s *stateSender) Close() error {
	return nil
}
