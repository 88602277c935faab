package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/gwillem/fingercount/pkg/protocol"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	MinPollInterval     = 20 * time.Millisecond
)

// Poller is the fallback for clients that cannot hold a WebSocket open. It
// polls /finger_count and emits the same Updates a Synchronizer does, with
// only the total filled in.
type Poller struct {
	api      *API
	interval time.Duration
	log      *slog.Logger
	updates  chan Update

	last protocol.State
	have bool
	ok   bool
}

// NewPoller returns a poller. The interval defaults to 100ms and is never
// shorter than 20ms.
func NewPoller(api *API, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		api:      api,
		interval: interval,
		log:      log,
		updates:  make(chan Update, 16),
	}
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	n, err := p.api.FingerCount(ctx)
	if err != nil {
		if p.ok {
			p.log.Warn("poll failed", "error", err)
		}
		p.ok = false
		sendLatest(p.updates, Update{State: p.last, Have: p.have, Conn: Disconnected, Stale: true})
		return
	}
	if !p.ok {
		p.log.Debug("poll succeeded", "finger_count", n)
	}
	p.ok = true
	p.last = protocol.State{
		Type:        protocol.MsgFingerCount,
		Total:       n,
		FingerCount: n,
		Timestamp:   time.Now().UnixMilli(),
	}
	p.have = true
	sendLatest(p.updates, Update{State: p.last, Have: true, Conn: Connected})
}
