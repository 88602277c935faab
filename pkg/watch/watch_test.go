package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/robot"
	"github.com/gwillem/fingercount/pkg/server"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	*httptest.Server
	hub *broadcast.Hub
	sim *robot.Sim
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	sim := robot.NewSim()
	hub := broadcast.New(broadcast.Config{Logger: discard})
	rl := relay.New(sim, relay.Config{Logger: discard})
	srv := server.New(hub, rl, server.Config{Logger: discard})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		rl.Close()
		ts.Close()
	})
	return &testServer{Server: ts, hub: hub, sim: sim}
}

func snapshot(seq uint64, fingers ...int) hand.Snapshot {
	var obs []hand.Observation
	for i, f := range fingers {
		h := hand.Right
		if i == 1 {
			h = hand.Left
		}
		obs = append(obs, hand.Observation{Handedness: h, Fingers: f})
	}
	return hand.NewSnapshot(seq, obs, time.Now())
}

// next waits for an update matching cond, skipping others.
func next(t *testing.T, ch <-chan Update, what string, cond func(Update) bool) Update {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case u := <-ch:
			if cond(u) {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSynchronizerReceivesState(t *testing.T) {
	ts := startServer(t)
	s := NewSynchronizer(Config{URL: ts.URL, Retry: 20 * time.Millisecond, Logger: discard})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	next(t, s.Updates(), "connected", func(u Update) bool { return u.Conn == Connected })
	waitFor(t, "registration", func() bool { return ts.hub.Len() == 1 })

	ts.hub.Publish(snapshot(1, 3, 2))
	u := next(t, s.Updates(), "state", func(u Update) bool { return u.Have })
	if u.State.Total != 5 || u.State.HandsDetected != 2 || u.Stale {
		t.Errorf("update = %+v", u)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if s.State() != Disconnected || !s.Stale() {
		t.Errorf("state after cancel = %v stale %v", s.State(), s.Stale())
	}
}

func TestSynchronizerReconnectKeepsLastState(t *testing.T) {
	ts := startServer(t)
	s := NewSynchronizer(Config{URL: ts.URL, Retry: 20 * time.Millisecond, Logger: discard})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, "registration", func() bool { return ts.hub.Len() == 1 })
	ts.hub.Publish(snapshot(1, 4))
	next(t, s.Updates(), "state", func(u Update) bool { return u.Have })

	// Dropping every server-side client forces a reconnect.
	for _, id := range clientIDs(ts.hub) {
		ts.hub.Unregister(id)
	}
	u := next(t, s.Updates(), "disconnect", func(u Update) bool { return u.Conn == Disconnected })
	if !u.Stale || !u.Have || u.State.Total != 4 {
		t.Errorf("disconnected update = %+v, want stale last state", u)
	}

	next(t, s.Updates(), "reconnect", func(u Update) bool { return u.Conn == Connected })
	waitFor(t, "re-registration", func() bool { return ts.hub.Len() == 1 })
	ts.hub.Publish(snapshot(2, 1))
	u = next(t, s.Updates(), "new state", func(u Update) bool { return u.State.Total == 1 })
	if u.Stale {
		t.Error("update after reconnect is stale")
	}
}

func clientIDs(h *broadcast.Hub) []string {
	var ids []string
	for id := range h.Stats().Clients {
		ids = append(ids, id)
	}
	return ids
}

func TestSynchronizerRetriesUnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	s := NewSynchronizer(Config{URL: url, Retry: 10 * time.Millisecond, Logger: discard})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go s.Run(ctx)
	next(t, s.Updates(), "disconnected", func(u Update) bool { return u.Conn == Disconnected })
	next(t, s.Updates(), "retry", func(u Update) bool { return u.Conn == Connecting })
	if _, ok := s.Last(); ok {
		t.Error("Last reports a state that was never received")
	}
}

func TestPoller(t *testing.T) {
	ts := startServer(t)
	ts.hub.Publish(snapshot(1, 2))

	p := NewPoller(NewAPI(ts.URL, time.Second), 20*time.Millisecond, discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	u := next(t, p.Updates(), "poll", func(u Update) bool { return u.Have })
	if u.State.Total != 2 || u.Conn != Connected || u.Stale {
		t.Errorf("update = %+v", u)
	}

	ts.hub.Publish(snapshot(2, 5, 5))
	next(t, p.Updates(), "changed total", func(u Update) bool { return u.State.Total == 10 })

	ts.Close()
	u = next(t, p.Updates(), "stale", func(u Update) bool { return u.Stale })
	if u.State.Total != 10 {
		t.Errorf("stale update lost last total: %+v", u)
	}
}

func TestPollerInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{5 * time.Millisecond, 20 * time.Millisecond},
		{250 * time.Millisecond, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := NewPoller(nil, tt.in, discard).Interval(); got != tt.want {
			t.Errorf("NewPoller(%v).Interval() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAPI(t *testing.T) {
	ts := startServer(t)
	api := NewAPI(ts.URL, time.Second)
	ctx := context.Background()

	on, err := api.SetAntennas(ctx, false)
	if err != nil || on {
		t.Fatalf("SetAntennas(false) = %v, %v", on, err)
	}
	if on, err = api.Antennas(ctx); err != nil || on {
		t.Errorf("Antennas() = %v, %v", on, err)
	}

	if err := api.Move(ctx, robot.Up); err != nil {
		t.Errorf("Move: %v", err)
	}
	if err := api.PlaySound(ctx); err != nil {
		t.Errorf("PlaySound: %v", err)
	}
	if len(ts.sim.Moves()) != 1 || ts.sim.Sounds() != 1 {
		t.Errorf("robot saw moves %v sounds %d", ts.sim.Moves(), ts.sim.Sounds())
	}

	err = api.Move(ctx, robot.Direction("spin"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Move(spin) = %v, want 400 APIError", err)
	}

	ts.sim.FailNext(errors.New("jammed"))
	err = api.PlaySound(ctx)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Errorf("PlaySound with failing robot = %v, want 502 APIError", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws", false},
		{"https://robot.example/", "wss://robot.example/ws", false},
		{"http://host/prefix", "ws://host/prefix/ws", false},
		{"ftp://host", "", true},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
