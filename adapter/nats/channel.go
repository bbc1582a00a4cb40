// Package nats carries envelopes over NATS core subjects.
//
// Core NATS is at-most-once: a message published while nobody is subscribed
// is gone, which matches the fire-and-forget nature of a Channel.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"
	"github.com/trickstertwo/xproxy"
)

var ErrClosed = errors.New("nats channel is closed")

// Channel publishes to and subscribes on a single subject.
type Channel struct {
	cfg   Config
	conn  *natsgo.Conn
	owned bool

	closed    atomic.Bool
	published atomic.Uint64
	received  atomic.Uint64
}

var _ xproxy.Channel = (*Channel)(nil)

// Stats returns channel telemetry.
type Stats struct {
	Published uint64
	Received  uint64
}

// NewChannel connects to cfg.URL. The connection is closed with the channel.
func NewChannel(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, natsgo.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsgo.Token(cfg.Token))
	}

	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	return &Channel{cfg: cfg, conn: conn, owned: true}, nil
}

// NewChannelWithConn shares an existing connection. Close leaves conn open.
func NewChannelWithConn(conn *natsgo.Conn, subject string) (*Channel, error) {
	if conn == nil {
		return nil, errors.New("nats: nil connection")
	}
	if subject == "" {
		return nil, errors.New("nats: subject required")
	}
	cfg := Defaults()
	cfg.URL = conn.ConnectedUrl()
	cfg.Subject = subject
	return &Channel{cfg: cfg, conn: conn}, nil
}

// Subject returns the subject this channel is bound to.
func (c *Channel) Subject() string { return c.cfg.Subject }

func (c *Channel) Post(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(c.cfg.Subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", c.cfg.Subject, err)
	}
	c.published.Add(1)
	return nil
}

// Listen subscribes handler to the subject. Messages of one subscription are
// delivered sequentially. The subscription ends when ctx is done.
func (c *Channel) Listen(ctx context.Context, handler func(data []byte)) (xproxy.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, errors.New("nats channel: nil handler")
	}

	cb := func(msg *natsgo.Msg) {
		c.received.Add(1)
		handler(msg.Data)
	}

	var (
		ns  *natsgo.Subscription
		err error
	)
	if c.cfg.Queue != "" {
		ns, err = c.conn.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, cb)
	} else {
		ns, err = c.conn.Subscribe(c.cfg.Subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", c.cfg.Subject, err)
	}
	// make sure the server knows about the subscription before anyone posts
	if err := c.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, fmt.Errorf("nats: flush: %w", err)
	}

	s := &subscription{ns: ns, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stop:
		}
	}()
	return s, nil
}

func (c *Channel) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.owned {
		c.conn.Close()
	}
	return nil
}

func (c *Channel) Stats() Stats {
	return Stats{
		Published: c.published.Load(),
		Received:  c.received.Load(),
	}
}

type subscription struct {
	ns   *natsgo.Subscription
	once sync.Once
	stop chan struct{}
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if err := s.ns.Unsubscribe(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) && !errors.Is(err, natsgo.ErrBadSubscription) {
			s.err = err
		}
	})
	return s.err
}
