package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/protocol"
)

const maxClientMessage = 4096

// wsSender delivers state messages and command replies to one WebSocket
// client. Writes are serialized since gorilla connections allow only one
// concurrent writer.
type wsSender struct {
	conn    *websocket.Conn
	timeout time.Duration

	mu sync.Mutex
}

func (c *wsSender) Send(ctx context.Context, s hand.Snapshot) error {
	return c.write(ctx, protocol.NewState(s))
}

func (c *wsSender) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close sends a close frame and closes the connection. It may run while a
// write is in progress.
func (c *wsSender) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(100*time.Millisecond))
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// handleWS upgrades the connection, registers it with the hub and serves
// commands read from it until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessage)

	sender := &wsSender{conn: conn, timeout: s.cfg.WriteTimeout}
	client, err := s.hub.Register(sender)
	if err != nil {
		s.log.Warn("websocket client rejected", "error", err)
		sender.Close()
		return
	}
	id := client.ID()
	s.log.Info("websocket client connected", "client", id, "remote", getClientIP(r))

	defer func() {
		s.relay.Release(id)
		s.hub.Unregister(id)
		s.log.Info("websocket client disconnected", "client", id)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", "client", id, "error", err)
			}
			return
		}
		reply, ok := s.handleMessage(ctx, id, data)
		if !ok {
			continue
		}
		if err := sender.write(ctx, reply); err != nil {
			s.log.Debug("websocket reply failed", "client", id, "error", err)
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, source string, data []byte) (protocol.Reply, bool) {
	reply, ok := protocol.Handle(ctx, s.relay, protocol.JSON, source, data, time.Now())
	switch {
	case !ok:
		s.log.Debug("ignoring non-command message", "client", source)
	case reply.Type == protocol.MsgError:
		s.log.Debug("command failed", "client", source, "command", reply.Command,
			"code", reply.Error, "error", reply.Message)
	}
	return reply, ok
}
