// Package server exposes the state stream and the command endpoints over
// HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/tracking"
)

// Hub is the part of the broadcast hub the server uses.
type Hub interface {
	Register(s broadcast.Sender) (*broadcast.Client, error)
	Unregister(id string) bool
	Latest() (hand.Snapshot, bool)
	State() broadcast.State
	Len() int
}

// Relay is the part of the command relay the server uses.
type Relay interface {
	Submit(ctx context.Context, cmd relay.Command) (relay.Result, error)
	AntennasEnabled() bool
	Release(source string)
}

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	WriteTimeout   time.Duration // per WebSocket write, default 1s
	// LoopStats, when set, is reported by /health.
	LoopStats func() tracking.Stats
	Logger    *slog.Logger
}

// Server serves the HTTP and WebSocket API.
type Server struct {
	hub      Hub
	relay    Relay
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
	started  time.Time
}

func New(hub Hub, r Relay, cfg Config) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		hub:     hub,
		relay:   r,
		cfg:     cfg,
		log:     cfg.Logger,
		started: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.cfg.Addr, "origins", s.cfg.AllowedOrigins)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
// Hijacked WebSocket connections are closed by the hub, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || originAllowed(s.cfg.AllowedOrigins, origin) {
		return true
	}
	s.log.Warn("rejected websocket origin", "origin", origin)
	return false
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return true
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}
