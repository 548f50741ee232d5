// Package livereload pushes refresh notifications to connected browsers
// when files under the served tree change.
//
// File changes enter through Notify and travel over an in-process watermill
// topic to Run, which coalesces bursts and broadcasts a single refresh to
// every subscribed client. Clients subscribe over Server-Sent Events or a
// WebSocket; both share one client set.
package livereload

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/livepreview/preview/internal/logging"
)

const (
	// RefreshMessage is the payload sent on every change.
	RefreshMessage = "refresh"

	// DefaultDebounce is the window in which change bursts are coalesced.
	DefaultDebounce = 50 * time.Millisecond

	// HeartbeatInterval is the interval for SSE heartbeats.
	HeartbeatInterval = 30 * time.Second

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	changeTopic = "file.changed"
)

// Client is one subscribed stream.
type Client struct {
	ID        string
	Transport string

	send chan string
	done chan struct{}
}

// Messages returns the client's outgoing messages.
func (c *Client) Messages() <-chan string {
	return c.send
}

// Done is closed once the client has been removed from the set.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithDebounce sets the coalescing window. Zero broadcasts every change.
func WithDebounce(d time.Duration) Option {
	return func(b *Broadcaster) { b.debounce = d }
}

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// Broadcaster owns the set of connected clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	pubsub  *gochannel.GoChannel
	changes <-chan *message.Message
	cancel  context.CancelFunc

	debounce  time.Duration
	heartbeat time.Duration
}

// NewBroadcaster creates a Broadcaster with its change topic subscribed, so
// changes notified before Run starts are not lost.
func NewBroadcaster(opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		clients:   make(map[*Client]struct{}),
		debounce:  DefaultDebounce,
		heartbeat: HeartbeatInterval,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := b.pubsub.Subscribe(ctx, changeTopic)
	if err != nil {
		cancel()
		return nil, err
	}
	b.changes = changes
	b.cancel = cancel
	return b, nil
}

// Subscribe adds a client to the set.
func (b *Broadcaster) Subscribe(transport string) *Client {
	c := &Client{
		ID:        ulid.Make().String(),
		Transport: transport,
		send:      make(chan string, sendBufSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	logging.Debug().Str("client", c.ID).Str("transport", transport).Msg("live-reload client connected")
	return c
}

// Unsubscribe removes a client. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(c *Client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.done)
	}
	b.mu.Unlock()

	if ok {
		logging.Debug().Str("client", c.ID).Msg("live-reload client disconnected")
	}
}

// Broadcast queues msg for every client and returns how many received it.
// Sends happen under the read lock so a removed client is never written to.
// Clients whose buffer is full are dropped.
func (b *Broadcaster) Broadcast(msg string) int {
	var delivered int
	var slow []*Client

	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- msg:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		logging.Warn().Str("client", c.ID).Msg("live-reload client dropped: buffer full")
		b.Unsubscribe(c)
	}
	return delivered
}

// Count returns the number of connected clients.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Notify records a change to path.
func (b *Broadcaster) Notify(path string) error {
	return b.pubsub.Publish(changeTopic, message.NewMessage(watermill.NewUUID(), []byte(path)))
}

// Run consumes changes and broadcasts a refresh at the end of each
// debounce window. It blocks until ctx is cancelled, then disconnects
// every client.
func (b *Broadcaster) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return nil
		case msg, ok := <-b.changes:
			if !ok {
				b.closeAll()
				return nil
			}
			msg.Ack()
			logging.Debug().Str("path", string(msg.Payload)).Msg("file changed")

			if b.debounce <= 0 {
				b.Broadcast(RefreshMessage)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.debounce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			n := b.Broadcast(RefreshMessage)
			logging.Debug().Int("clients", n).Msg("refresh broadcast")
		}
	}
}

// Close releases the change topic.
func (b *Broadcaster) Close() error {
	b.cancel()
	return b.pubsub.Close()
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		close(c.done)
		delete(b.clients, c)
	}
}
