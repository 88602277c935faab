package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gwillem/fingercount/pkg/protocol"
)

// ConnState is the connection state of a Synchronizer.
type ConnState int

const (
	Connecting ConnState = iota
	Connected
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Update is emitted for every received state and every connection change.
// State is the last known state; Stale is set while it may be outdated.
type Update struct {
	State protocol.State
	Have  bool // false until the first state arrives
	Conn  ConnState
	Stale bool
}

// Config configures a Synchronizer.
type Config struct {
	// URL is the server base URL, e.g. http://localhost:8000.
	URL    string
	Retry  time.Duration // default 1s
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Synchronizer keeps a local copy of the server state over a WebSocket,
// reconnecting after a fixed delay for as long as Run is active.
type Synchronizer struct {
	cfg     Config
	log     *slog.Logger
	updates chan Update

	mu   sync.Mutex
	conn ConnState
	last protocol.State
	have bool
}

func NewSynchronizer(cfg Config) *Synchronizer {
	if cfg.Retry <= 0 {
		cfg.Retry = time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synchronizer{
		cfg:     cfg,
		log:     cfg.Logger,
		updates: make(chan Update, 16),
		conn:    Connecting,
	}
}

// Updates delivers updates. When the reader falls behind the oldest
// pending update is dropped.
func (s *Synchronizer) Updates() <-chan Update {
	return s.updates
}

func (s *Synchronizer) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Last returns the last received state and whether one was received.
func (s *Synchronizer) Last() (protocol.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.have
}

// Stale reports whether the last state may be outdated.
func (s *Synchronizer) Stale() bool {
	return s.State() != Connected
}

// Run connects and reconnects until ctx is canceled.
func (s *Synchronizer) Run(ctx context.Context) error {
	url, err := websocketURL(s.cfg.URL)
	if err != nil {
		return err
	}

	for {
		s.setConn(Connecting)
		conn, _, err := s.cfg.Dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Debug("connect failed", "url", url, "error", err)
		} else {
			s.setConn(Connected)
			s.log.Info("connected", "url", url)
			err = s.read(ctx, conn)
			s.log.Info("disconnected", "url", url, "error", err)
		}
		if ctx.Err() != nil {
			s.setConn(Disconnected)
			return ctx.Err()
		}
		s.setConn(Disconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Retry):
		}
	}
}

func (s *Synchronizer) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope struct {
			Type protocol.MsgType `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.log.Debug("ignoring undecodable message", "error", err)
			continue
		}
		if envelope.Type != protocol.MsgFingerCount {
			s.log.Debug("ignoring message", "type", envelope.Type)
			continue
		}
		var st protocol.State
		if err := json.Unmarshal(data, &st); err != nil {
			s.log.Debug("ignoring malformed state", "error", err)
			continue
		}
		s.mu.Lock()
		s.last, s.have = st, true
		s.mu.Unlock()
		s.emit()
	}
}

func (s *Synchronizer) setConn(c ConnState) {
	s.mu.Lock()
	changed := s.conn != c
	s.conn = c
	s.mu.Unlock()
	if changed {
		s.emit()
	}
}

func (s *Synchronizer) emit() {
	s.mu.Lock()
	u := Update{State: s.last, Have: s.have, Conn: s.conn, Stale: s.conn != Connected}
	s.mu.Unlock()
	sendLatest(s.updates, u)
}

// sendLatest sends u, evicting the oldest queued update when ch is full.
func sendLatest(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
