// Package mqttbridge mirrors the state stream to an MQTT broker and accepts
// commands from it.
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gwillem/fingercount/pkg/broadcast"
	"github.com/gwillem/fingercount/pkg/protocol"
)

// Source identifies MQTT commands to the relay.
const Source = "mqtt"

// Hub is the part of the broadcast hub the bridge uses.
type Hub interface {
	Register(s broadcast.Sender) (*broadcast.Client, error)
	Unregister(id string) bool
}

// Relay is the part of the command relay the bridge uses.
type Relay interface {
	protocol.Submitter
	Release(source string)
}

// Config configures a Bridge.
type Config struct {
	Broker       string
	ClientID     string
	Encoding     protocol.Encoding
	QoS          byte
	StateTopic   string
	CommandTopic string
	ResultTopic  string // empty disables command replies
	// CommandQueue bounds commands waiting for the relay, default 16.
	CommandQueue int
	Logger       *slog.Logger
}

// Stats contains bridge statistics
type Stats struct {
	Connected bool
	Published uint64
	Commands  uint64
	Dropped   uint64
	Errors    uint64
}

// publisher is the subset of mqtt.Client used to send messages.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge is a hub client that publishes every snapshot to the state topic
// while the broker connection is up, and a command source for the relay.
type Bridge struct {
	cfg    Config
	hub    Hub
	relay  Relay
	log    *slog.Logger
	client mqtt.Client
	pub    publisher

	commands chan []byte
	done     chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	hubClient string
	closed    bool

	connected atomic.Bool
	published atomic.Uint64
	handled   atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// New creates a bridge. Nothing is sent until Connect.
func New(hub Hub, r Relay, cfg Config) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if _, err := protocol.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, err
	}
	if cfg.Encoding == "" {
		cfg.Encoding = protocol.JSON
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bridge{
		cfg:      cfg,
		hub:      hub,
		relay:    r,
		log:      cfg.Logger.With("broker", cfg.Broker),
		commands: make(chan []byte, cfg.CommandQueue),
		done:     make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = b.onConnectionLost
	b.client = mqtt.NewClient(opts)
	b.pub = b.client

	b.wg.Add(1)
	go b.processCommands()
	return b, nil
}

// Connect starts connecting to the broker. With connect retry enabled the
// client keeps trying in the background, so a broker that is down at
// startup is logged rather than returned.
func (b *Bridge) Connect(ctx context.Context) error {
	b.log.Info("connecting to mqtt broker", "client_id", b.cfg.ClientID)
	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-time.After(5 * time.Second):
		b.log.Warn("mqtt broker not reachable yet, retrying in background")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// onConnect runs on every (re)connection.
func (b *Bridge) onConnect(c mqtt.Client) {
	b.connected.Store(true)
	b.log.Info("mqtt connection established", "state_topic", b.cfg.StateTopic)

	if b.cfg.CommandTopic != "" {
		token := c.Subscribe(b.cfg.CommandTopic, b.cfg.QoS, b.onMessage)
		go func() {
			if !token.WaitTimeout(5 * time.Second) {
				b.log.Warn("mqtt subscribe timeout", "topic", b.cfg.CommandTopic)
				return
			}
			if err := token.Error(); err != nil {
				b.log.Error("mqtt subscribe failed", "topic", b.cfg.CommandTopic, "error", err)
				return
			}
			b.log.Info("subscribed to commands", "topic", b.cfg.CommandTopic)
		}()
	}
	b.attach()
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	b.connected.Store(false)
	b.log.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	b.detach()
	b.relay.Release(Source)
}

// attach registers the bridge with the hub unless it already is.
func (b *Bridge) attach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.hubClient != "" {
		return
	}
	c, err := b.hub.Register(&stateSender{
		pub:     b.pub,
		topic:   b.cfg.StateTopic,
		qos:     b.cfg.QoS,
		enc:     b.cfg.Encoding,
		log:     b.log,
		onError: func() { b.errors.Add(1) },
		onSent:  func() { b.published.Add(1) },
	})
	if err != nil {
		b.log.Warn("mqtt bridge not registered with hub", "error", err)
		return
	}
	b.hubClient = c.ID()
	b.log.Debug("mqtt bridge registered", "client", b.hubClient)
}

func (b *Bridge) detach() {
	b.mu.Lock()
	id := b.hubClient
	b.hubClient = ""
	b.mu.Unlock()
	if id != "" {
		b.hub.Unregister(id)
	}
}

// onMessage queues a command for processCommands. Paho delivers messages
// from a single goroutine, so relay calls must not block here.
func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.enqueue(msg.Payload())
}

func (b *Bridge) enqueue(payload []byte) {
	select {
	case b.commands <- payload:
	default:
		b.dropped.Add(1)
		b.log.Warn("mqtt command queue full, dropping command", "size", len(payload))
	}
}

func (b *Bridge) processCommands() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case payload := <-b.commands:
			b.execute(payload)
		}
	}
}

func (b *Bridge) execute(payload []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	reply, ok := protocol.Handle(ctx, b.relay, b.cfg.Encoding, Source, payload, time.Now())
	if !ok {
		b.log.Debug("ignoring non-command mqtt message")
		return
	}
	b.handled.Add(1)
	if reply.Type == protocol.MsgError {
		b.log.Warn("mqtt command failed", "command", reply.Command, "code", reply.Error, "error", reply.Message)
	}
	if b.cfg.ResultTopic == "" {
		return
	}

	data, err := b.cfg.Encoding.Marshal(reply)
	if err != nil {
		b.errors.Add(1)
		b.log.Error("failed to encode mqtt reply", "error", err)
		return
	}
	token := b.pub.Publish(b.cfg.ResultTopic, b.cfg.QoS, false, data)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		b.errors.Add(1)
		b.log.Debug("mqtt reply not published", "error", token.Error())
	}
}

// Stats returns bridge statistics
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected: b.connected.Load(),
		Published: b.published.Load(),
		Commands:  b.handled.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
	}
}

// Close leaves the hub, stops command processing and disconnects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.detach()
	close(b.done)
	b.wg.Wait()
	b.relay.Release(Source)

	if b.client.IsConnected() {
		if b.cfg.CommandTopic != "" {
			b.client.Unsubscribe(b.cfg.CommandTopic).WaitTimeout(time.Second)
		}
		b.client.Disconnect(250) // 250ms grace period
		b.log.Info("mqtt disconnected")
	}
	b.connected.Store(false)
	return nil
}
