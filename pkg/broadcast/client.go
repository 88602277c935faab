package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/gwillem/fingercount/pkg/hand"
)

// Client is one registered receiver. It is owned by the Hub.
type Client struct {
	id     string
	sender Sender
	queue  chan hand.Snapshot
	done   chan struct{}
	alive  atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64

	stopOnce sync.Once
	stopErr  error
}

func (c *Client) ID() string {
	return c.id
}

// Alive is false once the client has been unregistered.
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// enqueue adds s, evicting the oldest queued snapshot when full.
func (c *Client) enqueue(s hand.Snapshot) {
	for {
		select {
		case c.queue <- s:
			return
		default:
		}
		select {
		case <-c.queue:
			c.dropped.Add(1)
		default:
		}
	}
}

func (c *Client) stop() error {
	c.stopOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
		c.stopErr = c.sender.Close()
	})
	return c.stopErr
}
