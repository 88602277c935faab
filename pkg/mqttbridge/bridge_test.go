package mqttbridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/protocol"
	"github.com/gwillem/fingercount/pkg/relay"
	"github.com/gwillem/fingercount/pkg/robot"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload.([]byte)})
	return newToken(p.err)
}

func (p *fakePublisher) on(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeRelay struct {
	mu       sync.Mutex
	cmds     []relay.Command
	released []string
	block    chan struct{}
}

func (r *fakeRelay) Submit(ctx context.Context, cmd relay.Command) (relay.Result, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return relay.Result{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return relay.Result{Command: cmd, Forwarded: true}, nil
}

func (r *fakeRelay) Release(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, source)
}

func (r *fakeRelay) commands() []relay.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.Command(nil), r.cmds...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestBridge(t *testing.T, hub Hub, r Relay, enc protocol.Encoding) (*Bridge, *fakePublisher) {
	t.Helper()
	b, err := New(hub, r, Config{
		Broker:       "tcp://localhost:1883",
		ClientID:     "test",
		Encoding:     enc,
		StateTopic:   "fc/state",
		CommandTopic: "fc/commands",
		ResultTopic:  "fc/results",
		CommandQueue: 1,
		Logger:       discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}
	b.pub = pub
	t.Cleanup(func() { b.Close() })
	return b, pub
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Error("New accepted empty broker")
	}
	if _, err := New(nil, nil, Config{Broker: "tcp://x:1883", Encoding: "xml"}); err == nil {
		t.Error("New accepted unknown encoding")
	}
}

func TestStateSender(t *testing.T) {
	snap := hand.NewSnapshot(3, []hand.Observation{
		{Handedness: hand.Left, Fingers: 4},
	}, time.UnixMilli(2000))

	for _, enc := range []protocol.Encoding{protocol.JSON, protocol.Msgpack} {
		pub := &fakePublisher{}
		var sent int
		s := &stateSender{
			pub: pub, topic: "fc/state", enc: enc, log: discard,
			onSent: func() { sent++ }, onError: func() {},
		}
		if err := s.Send(context.Background(), snap); err != nil {
			t.Fatalf("%s: Send: %v", enc, err)
		}
		msgs := pub.on("fc/state")
		if len(msgs) != 1 || sent != 1 {
			t.Fatalf("%s: published %d, sent %d, want 1", enc, len(msgs), sent)
		}
		var st protocol.State
		if err := enc.Unmarshal(msgs[0], &st); err != nil {
			t.Fatalf("%s: decode: %v", enc, err)
		}
		if st.Total != 4 || st.HandsDetected != 1 || st.Timestamp != 2000 || st.Seq != 3 {
			t.Errorf("%s: state = %+v", enc, st)
		}
	}
}

func TestStateSenderFailureNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	var failed int
	s := &stateSender{
		pub: pub, topic: "fc/state", enc: protocol.JSON, log: discard,
		onSent: func() {}, onError: func() { failed++ },
	}
	if err := s.Send(context.Background(), hand.Snapshot{}); err != nil {
		t.Errorf("Send = %v, want nil", err)
	}
	if failed != 1 {
		t.Errorf("failures = %d, want 1", failed)
	}
}

func TestAttachDetach(t *testing.T) {
	hub := broadcast.New(broadcast.Config{Logger: discard})
	defer hub.Close()
	r := &fakeRelay{}
	b, pub := newTestBridge(t, hub, r, protocol.JSON)

	b.attach()
	b.attach()
	if n := hub.Len(); n != 1 {
		t.Fatalf("hub clients = %d, want 1", n)
	}

	hub.Publish(hand.NewSnapshot(1, nil, time.Now()))
	waitFor(t, "state publish", func() bool { return len(pub.on("fc/state")) == 1 })
	if got := b.Stats().Published; got != 1 {
		t.Errorf("Stats().Published = %d, want 1", got)
	}

	b.onConnectionLost(nil, errors.New("eof"))
	if n := hub.Len(); n != 0 {
		t.Errorf("hub clients after connection loss = %d, want 0", n)
	}
	r.mu.Lock()
	released := append([]string(nil), r.released...)
	r.mu.Unlock()
	if len(released) != 1 || released[0] != Source {
		t.Errorf("released = %v, want [%s]", released, Source)
	}

	b.attach()
	if n := hub.Len(); n != 1 {
		t.Errorf("hub clients after reconnect = %d, want 1", n)
	}
	b.Close()
	if n := hub.Len(); n != 0 {
		t.Errorf("hub clients after Close = %d, want 0", n)
	}
}

func TestCommands(t *testing.T) {
	for _, enc := range []protocol.Encoding{protocol.JSON, protocol.Msgpack} {
		t.Run(string(enc), func(t *testing.T) {
			r := &fakeRelay{}
			b, pub := newTestBridge(t, nil, r, enc)

			data, err := enc.Marshal(protocol.Message{Type: protocol.MsgRobotControl, ID: "x1", Direction: "down"})
			if err != nil {
				t.Fatal(err)
			}
			b.enqueue(data)
			waitFor(t, "reply", func() bool { return len(pub.on("fc/results")) == 1 })

			cmds := r.commands()
			if len(cmds) != 1 || cmds[0].Direction != robot.Down || cmds[0].Source != Source {
				t.Errorf("relayed %+v", cmds)
			}
			var reply protocol.Reply
			if err := enc.Unmarshal(pub.on("fc/results")[0], &reply); err != nil {
				t.Fatal(err)
			}
			if reply.Type != protocol.MsgCommandResult || reply.ID != "x1" || !reply.Forwarded {
				t.Errorf("reply = %+v", reply)
			}
		})
	}
}

func TestIgnoresUnknownMessages(t *testing.T) {
	r := &fakeRelay{}
	b, pub := newTestBridge(t, nil, r, protocol.JSON)

	b.enqueue([]byte(`{"type":"hello"}`))
	b.enqueue([]byte(`{"type":"play_sound","id":"s1"}`))
	waitFor(t, "reply", func() bool { return len(pub.on("fc/results")) == 1 })

	if got := b.Stats().Commands; got != 1 {
		t.Errorf("Stats().Commands = %d, want 1", got)
	}
}

func TestCommandQueueFull(t *testing.T) {
	r := &fakeRelay{block: make(chan struct{})}
	b, _ := newTestBridge(t, nil, r, protocol.JSON)

	for i := 0; i < 3; i++ {
		b.enqueue([]byte(`{"type":"play_sound"}`))
	}
	if got := b.Stats().Dropped; got < 1 {
		t.Errorf("Stats().Dropped = %d, want at least 1", got)
	}
	close(r.block)
}
