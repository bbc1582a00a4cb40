package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xproxy"
)

var ErrClosed = errors.New("redis stream channel is closed")

type channel struct {
	cfg    Config
	client *redis.Client

	closed atomic.Bool

	// metrics for observability
	metrics *channelMetrics
}

// channelMetrics tracks performance telemetry
type channelMetrics struct {
	posted        atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	claimed       atomic.Uint64
	postErrors    atomic.Uint64
	consumeErrors atomic.Uint64
}

// Stats is a snapshot of channel telemetry.
type Stats struct {
	Posted        uint64
	Consumed      uint64
	Acked         uint64
	Claimed       uint64
	PostErrors    uint64
	ConsumeErrors uint64
}

// StatsProvider is implemented by channels returned from NewChannel.
type StatsProvider interface {
	Stats() Stats
}

// NewChannel connects to Redis and returns a channel bound to cfg.Stream.
func NewChannel(cfg Config) (xproxy.Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return newChannel(cfg, client), nil
}

func newChannel(cfg Config, client *redis.Client) *channel {
	return &channel{
		cfg:     cfg,
		client:  client,
		metrics: &channelMetrics{},
	}
}

// Post appends data to the stream with XADD.
func (c *channel) Post(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	args := &redis.XAddArgs{
		Stream: c.cfg.Stream,
		ID:     "*",
		Values: map[string]any{
			fieldPayload:    data,
			fieldProducedAt: time.Now().UnixNano(),
		},
	}
	// Approximate trimming to keep stream bounded
	if c.cfg.MaxLenApprox > 0 {
		args.MaxLen = c.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		c.metrics.postErrors.Add(1)
		return err
	}
	c.metrics.posted.Add(1)
	return nil
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Listen reads the stream through the configured consumer group and calls
// handler per entry, acknowledging each entry once handler returned.
func (c *channel) Listen(ctx context.Context, handler func(data []byte)) (xproxy.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, errors.New("redis stream channel: nil handler")
	}

	// "$" so a fresh group starts with messages posted from now on
	if c.cfg.AutoCreate {
		if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "$").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create group %q on %q: %w", c.cfg.Group, c.cfg.Stream, err)
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	workers := c.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	workCh := make(chan entry, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range workCh {
				handler(e.payload)
				c.ack(e.id)
			}
		}()
	}

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		c.pollerLoop(innerCtx, workCh)
	}()

	if c.cfg.ClaimMinIdle > 0 && c.cfg.ClaimInterval > 0 && c.cfg.ClaimBatch > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			c.claimLoop(innerCtx, workCh)
		}()
	}

	// workers exit once every producer stopped
	go func() {
		producers.Wait()
		close(workCh)
	}()

	var once sync.Once
	return &subscription{
		close: func() error {
			once.Do(func() {
				cancel()
				producers.Wait()
				wg.Wait()
			})
			return nil
		},
	}, nil
}

// ack uses its own short context so entries handled during shutdown still get acknowledged.
func (c *channel) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.metrics.consumeErrors.Add(1)
		return
	}
	c.metrics.acked.Add(1)
	if c.cfg.AutoDeleteOnAck {
		_ = c.client.XDel(ctx, c.cfg.Stream, id).Err()
	}
}

// pollerLoop reads from Redis Streams and distributes entries to workers.
func (c *channel) pollerLoop(ctx context.Context, workCh chan<- entry) {
	xArgs := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(_max(1, c.cfg.BatchSize)),
		Block:    c.cfg.Block,
		NoAck:    false,
	}

	backoff := time.Millisecond * 100
	maxBackoff := time.Second * 5

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.client.XReadGroup(ctx, xArgs).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				// Block timeout (expected), continue polling
				backoff = time.Millisecond * 100
				continue
			}

			c.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = _min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}

		backoff = time.Millisecond * 100

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if !c.enqueue(ctx, workCh, msg) {
					return
				}
			}
		}
	}
}

// enqueue hands msg to a worker. Entries without payload are acknowledged and dropped.
func (c *channel) enqueue(ctx context.Context, workCh chan<- entry, msg redis.XMessage) bool {
	e, ok := decodeEntry(msg.ID, msg.Values)
	if !ok {
		c.ack(msg.ID)
		return true
	}
	c.metrics.consumed.Add(1)

	select {
	case workCh <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// claimLoop periodically takes over entries that another consumer of the
// group read but never acknowledged, and redelivers them here.
func (c *channel) claimLoop(ctx context.Context, workCh chan<- entry) {
	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	batch := int64(_max(1, c.cfg.ClaimBatch))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.cfg.Stream,
			Group:  c.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  batch,
			Idle:   c.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}

		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			c.metrics.consumeErrors.Add(1)
			continue
		}
		c.metrics.claimed.Add(uint64(len(msgs)))

		for _, msg := range msgs {
			if !c.enqueue(ctx, workCh, msg) {
				return
			}
		}
	}
}

// Stats returns a snapshot of channel telemetry.
func (c *channel) Stats() Stats {
	return Stats{
		Posted:        c.metrics.posted.Load(),
		Consumed:      c.metrics.consumed.Load(),
		Acked:         c.metrics.acked.Load(),
		Claimed:       c.metrics.claimed.Load(),
		PostErrors:    c.metrics.postErrors.Load(),
		ConsumeErrors: c.metrics.consumeErrors.Load(),
	}
}

// Close gracefully shuts down the channel.
func (c *channel) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.client.Close()
}

// Helper functions

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}

func _max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func _min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
