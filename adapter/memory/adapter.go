package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xproxy"
)

const ChannelName = "memory"

func init() {
	if err := xproxy.RegisterChannel(ChannelName, func(cfg map[string]any) (xproxy.Channel, error) {
		return NewChannel(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xproxy/memory: failed to register channel: %w", err))
	}
}

var ErrClosed = errors.New("memory channel is closed")

// Config controls memory channel behavior.
type Config struct {
	// BufferSize is the per-listener queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of goroutines draining each listener queue (default: 1).
	// With more than one, a listener may see messages out of order.
	Concurrency int
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	return Config{
		BufferSize:  maxInt(1, getInt("buffer_size", 1024)),
		Concurrency: maxInt(1, getInt("concurrency", 1)),
	}
}

// toMap converts Config to the generic map expected by the channel factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size": c.BufferSize,
		"concurrency": c.Concurrency,
	}
}

// Channel is an in-process execution context: Post hands a copy of the data to
// every current listener. Good for tests and for host/guest pairs in one process.
type Channel struct {
	cfg Config

	mu        sync.RWMutex
	listeners map[uint64]*listener
	nextID    uint64

	closed  atomic.Bool
	metrics *channelMetrics
}

type channelMetrics struct {
	posted    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var _ xproxy.Channel = (*Channel)(nil)

// NewChannel creates a new in-memory channel.
func NewChannel(cfg Config) *Channel {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Channel{
		cfg:       cfg,
		listeners: make(map[uint64]*listener),
		metrics:   &channelMetrics{},
	}
}

// NewPair returns two independent channels, one per side of a host/guest pair.
// The host listens on host and posts to guest; the guest does the opposite.
func NewPair(cfg Config) (host, guest *Channel) {
	return NewChannel(cfg), NewChannel(cfg)
}

// Post queues data for every listener. A message posted while nobody listens is
// dropped, as with any fire-and-forget link.
func (c *Channel) Post(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.metrics.posted.Add(1)

	c.mu.RLock()
	targets := make([]*listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		targets = append(targets, l)
	}
	c.mu.RUnlock()

	if len(targets) == 0 {
		c.metrics.dropped.Add(1)
		return nil
	}

	for _, l := range targets {
		// every listener gets its own copy so handlers cannot race on it
		buf := make([]byte, len(data))
		copy(buf, data)
		task := &delivery{data: buf}

		select {
		case l.queue <- task:
		case <-l.ctx.Done():
			// listener went away; nothing to deliver to
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Listen starts Concurrency workers feeding handler from a dedicated queue.
func (c *Channel) Listen(ctx context.Context, handler func(data []byte)) (xproxy.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, errors.New("memory channel: nil handler")
	}

	innerCtx, cancel := context.WithCancel(ctx)
	l := &listener{
		queue:  make(chan *delivery, c.cfg.BufferSize),
		ctx:    innerCtx,
		cancel: cancel,
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = l
	c.mu.Unlock()

	wg := &sync.WaitGroup{}
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(innerCtx, l, handler)
		}()
	}

	var once sync.Once
	return &subscription{
		close: func() error {
			once.Do(func() {
				c.mu.Lock()
				delete(c.listeners, id)
				c.mu.Unlock()
				cancel()
				wg.Wait()
			})
			return nil
		},
	}, nil
}

func (c *Channel) worker(ctx context.Context, l *listener, handler func(data []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.queue:
			if task == nil {
				continue
			}
			c.metrics.delivered.Add(1)
			handler(task.data)
		}
	}
}

// Close detaches every listener and rejects further posts.
func (c *Channel) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	for id, l := range c.listeners {
		l.cancel()
		delete(c.listeners, id)
	}
	c.mu.Unlock()
	return nil
}

// Stats returns channel telemetry.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dropped   uint64
	Listeners int
}

// Stats returns current channel metrics.
func (c *Channel) Stats() Stats {
	c.mu.RLock()
	n := len(c.listeners)
	c.mu.RUnlock()
	return Stats{
		Posted:    c.metrics.posted.Load(),
		Delivered: c.metrics.delivered.Load(),
		Dropped:   c.metrics.dropped.Load(),
		Listeners: n,
	}
}

// Internal types

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

type listener struct {
	queue  chan *delivery
	ctx    context.Context
	cancel context.CancelFunc
}

type delivery struct {
	data []byte
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
