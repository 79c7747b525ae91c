package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// ChannelBatch is one events frame as received by a client.
type ChannelBatch struct {
	Channel string
	Events  []Event
}

// DialOption configures client behavior.
type DialOption func(*clientConfig)

type clientConfig struct {
	reconnect   bool
	maxAttempts int
	delay       time.Duration
	onReconnect func()
}

// WithReconnect enables automatic redialing after a dropped connection, up
// to maxAttempts with a fixed delay between attempts. Subscriptions are
// re-established on the new connection.
func WithReconnect(maxAttempts int, delay time.Duration) DialOption {
	return func(cfg *clientConfig) {
		cfg.reconnect = true
		cfg.maxAttempts = maxAttempts
		cfg.delay = delay
	}
}

// WithOnReconnect installs a hook invoked once after each successful
// reconnect. Consumers use it to resync visible views exactly once instead
// of replaying missed events.
func WithOnReconnect(fn func()) DialOption {
	return func(cfg *clientConfig) {
		cfg.onReconnect = fn
	}
}

// Client consumes hub channels over a websocket connection.
type Client struct {
	url string
	cfg clientConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]struct{}
	err      error

	batches   chan ChannelBatch
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a realtime endpoint.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Client, error) {
	cfg := clientConfig{maxAttempts: 5, delay: time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:      url,
		cfg:      cfg,
		conn:     conn,
		channels: make(map[string]struct{}),
		batches:  make(chan ChannelBatch, subscriptionBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe starts delivery for a channel. Subscribing twice is a no-op.
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return nil
	}
	if err := c.writeLocked(frame{Op: opSubscribe, Channel: channel}); err != nil {
		return err
	}
	c.channels[channel] = struct{}{}
	return nil
}

// Unsubscribe stops delivery for a channel.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return nil
	}
	delete(c.channels, channel)
	return c.writeLocked(frame{Op: opUnsubscribe, Channel: channel})
}

// Batches streams the received event frames. The channel closes when the
// connection is gone for good; Err explains why.
func (c *Client) Batches() <-chan ChannelBatch {
	return c.batches
}

// Err reports why Batches closed. It returns nil after a clean Close and a
// TransientTransportError when the connection dropped and could not be
// re-established.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}

func (c *Client) writeLocked(f frame) error {
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	defer close(c.batches)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		var f frame
		err := conn.ReadJSON(&f)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if c.cfg.reconnect && c.redial() {
				if c.cfg.onReconnect != nil {
					c.cfg.onReconnect()
				}
				continue
			}
			c.fail(err)
			return
		}
		if f.Op != opEvents {
			continue
		}
		select {
		case c.batches <- ChannelBatch{Channel: f.Channel, Events: f.Events}:
		case <-c.done:
			return
		}
	}
}

// fail records why the stream ended, unless the consumer closed the client
// while a redial was still in flight.
func (c *Client) fail(cause error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.mu.Lock()
	c.err = domain.TransientTransportError{Cause: cause}
	c.mu.Unlock()
}

// redial attempts to re-establish the connection and replays the
// subscription set on success.
func (c *Client) redial() bool {
	for attempt := 0; attempt < c.cfg.maxAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(c.cfg.delay):
		}
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			continue
		}
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.conn = conn
		var failed error
		for channel := range c.channels {
			if err := c.writeLocked(frame{Op: opSubscribe, Channel: channel}); err != nil {
				failed = err
				break
			}
		}
		c.mu.Unlock()
		if failed != nil {
			_ = conn.Close()
			continue
		}
		return true
	}
	return false
}
