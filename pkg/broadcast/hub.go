// Package broadcast fans tracking snapshots out to connected clients.
//
// Every client owns a small queue and a writer goroutine. Publish never
// waits on the network: when a client falls behind, its oldest queued
// snapshot is discarded so it always catches up to the newest state.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gwillem/fingercount/pkg/hand"
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("hub closed")

// Sender delivers snapshots to one client over its transport.
type Sender interface {
	Send(ctx context.Context, s hand.Snapshot) error
	Close() error
}

// SendError reports a failed delivery. The client is unregistered.
type SendError struct {
	ClientID string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to client %s: %v", e.ClientID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// State is the hub's client presence state.
type State int

const (
	Idle   State = iota // no clients
	Active              // at least one client
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Config configures a Hub.
type Config struct {
	Queue       int           // per-client queue length, default 8
	SendTimeout time.Duration // bound on a single send, default 1s
	Logger      *slog.Logger
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Published uint64
	Clients   map[string]ClientStats
}

// ClientStats tracks deliveries to one client.
type ClientStats struct {
	Sent    uint64
	Dropped uint64
}

// Hub owns the client registry.
type Hub struct {
	queue       int
	sendTimeout time.Duration
	log         *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	latest    atomic.Pointer[hand.Snapshot]
	published atomic.Uint64
	wg        sync.WaitGroup
}

func New(cfg Config) *Hub {
	if cfg.Queue <= 0 {
		cfg.Queue = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		queue:       cfg.Queue,
		sendTimeout: cfg.SendTimeout,
		log:         cfg.Logger,
		clients:     make(map[string]*Client),
	}
}

// Register adds a client. It receives snapshots published from now on;
// nothing is replayed.
func (h *Hub) Register(s Sender) (*Client, error) {
	c := &Client{
		id:     uuid.NewString(),
		sender: s,
		queue:  make(chan hand.Snapshot, h.queue),
		done:   make(chan struct{}),
	}
	c.alive.Store(true)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.write(c)

	h.log.Debug("client registered", "client", c.id, "clients", n)
	if n == 1 {
		h.log.Info("hub state changed", "from", Idle, "to", Active)
	}
	return c, nil
}

// Unregister removes a client and closes its sender. It is safe to call
// more than once and from any goroutine; only the first call reports true.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return false
	}
	c.stop()
	h.log.Debug("client unregistered", "client", id, "clients", n,
		"sent", c.sent.Load(), "dropped", c.dropped.Load())
	if n == 0 {
		h.log.Info("hub state changed", "from", Active, "to", Idle)
	}
	return true
}

// Publish queues s for every registered client and records it as the
// latest snapshot. It never blocks on a client.
func (h *Hub) Publish(s hand.Snapshot) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.latest.Store(&s)
	h.published.Add(1)
	for _, c := range clients {
		c.enqueue(s)
	}
}

// Latest returns the most recently published snapshot, for polling
// transports. ok is false before the first Publish.
func (h *Hub) Latest() (hand.Snapshot, bool) {
	p := h.latest.Load()
	if p == nil {
		return hand.Snapshot{}, false
	}
	return *p, true
}

func (h *Hub) State() State {
	if h.Len() > 0 {
		return Active
	}
	return Idle
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{
		Published: h.published.Load(),
		Clients:   make(map[string]ClientStats, len(h.clients)),
	}
	for id, c := range h.clients {
		st.Clients[id] = ClientStats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
	}
	return st
}

// Close unregisters every client and waits for their writers to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.wg.Wait()
		return nil
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.stop(); err != nil {
			errs = append(errs, fmt.Errorf("close client %s: %w", c.id, err))
		}
	}
	h.wg.Wait()
	if len(clients) > 0 {
		h.log.Info("hub state changed", "from", Active, "to", Idle)
	}
	return errors.Join(errs...)
}

func (h *Hub) write(c *Client) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case s := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
			err := c.sender.Send(ctx, s)
			cancel()
			if err != nil {
				select {
				case <-c.done:
					// already unregistered, the sender was closed under us
				default:
					h.log.Warn("dropping client", "error", &SendError{ClientID: c.id, Err: err})
					h.Unregister(c.id)
				}
				return
			}
			c.sent.Add(1)
		}
	}
}
