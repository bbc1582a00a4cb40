package xproxy

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Config is the runtime configuration of a Proxy. Zero fields fall back to the
// defaults the Proxy was built with.
type Config struct {
	// Prefix namespaces outgoing actions (default "blipEvent:").
	Prefix string
	// Caller identifies this endpoint on every outgoing envelope.
	Caller string
	// ReceiveChannel is where replies are listened for.
	ReceiveChannel Channel
	// SendChannel is where requests are posted.
	SendChannel Channel
	// ShouldHandleMessage further filters envelopes that carry a tracking id.
	ShouldHandleMessage Predicate
}

// Proxy correlates replies with requests over a one-way Channel.
type Proxy struct {
	mu        sync.RWMutex
	cfg       Config
	defaults  Config
	sub       Subscription
	listenCh  Channel
	listenCtx context.Context

	pending *pendingRegistry
	codec   Codec
	clock   xclock.Clock
	logger  *xlog.Logger
	newID   IDGenerator
	timeout time.Duration
	owned   []Channel

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	metrics   *proxyMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type proxyMetrics struct {
	sent      atomic.Uint64
	resolved  atomic.Uint64
	rejected  atomic.Uint64
	ignored   atomic.Uint64
	timedOut  atomic.Uint64
	errors    atomic.Uint64
	latencyNs atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (p *Proxy) Codec() Codec { return p.codec }

// Config returns the active configuration.
func (p *Proxy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Configure replaces the active configuration. Requests already pending are
// unaffected. If the proxy is listening and the receive channel changed, the
// listener moves to the new channel.
func (p *Proxy) Configure(cfg Config) {
	cfg = p.withDefaults(cfg)

	p.mu.Lock()
	p.cfg = cfg
	var old Subscription
	if p.sub != nil && p.listenCh != cfg.ReceiveChannel {
		old = p.sub
		p.sub = nil
		p.listenCh = nil
	}
	ctx := p.listenCtx
	p.mu.Unlock()

	if old == nil {
		return
	}
	if err := old.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("xproxy: closing previous listener failed")
	}
	if err := p.StartListening(ctx); err != nil {
		p.metrics.errors.Add(1)
		p.logger.Warn().Err(err).Msg("xproxy: re-attaching listener failed")
	}
}

func (p *Proxy) withDefaults(cfg Config) Config {
	if cfg.Prefix == "" {
		cfg.Prefix = p.defaults.Prefix
	}
	if cfg.Caller == "" {
		cfg.Caller = p.defaults.Caller
	}
	if cfg.ReceiveChannel == nil {
		cfg.ReceiveChannel = p.defaults.ReceiveChannel
	}
	if cfg.SendChannel == nil {
		cfg.SendChannel = p.defaults.SendChannel
	}
	if cfg.ShouldHandleMessage == nil {
		cfg.ShouldHandleMessage = p.defaults.ShouldHandleMessage
	}
	return cfg
}

// StartListening attaches the reply dispatcher to the receive channel.
// Calling it while already listening is a no-op.
func (p *Proxy) StartListening(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProxyClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		return nil
	}
	ch := p.cfg.ReceiveChannel
	if ch == nil {
		return ErrNoReceiveChannel
	}
	sub, err := ch.Listen(ctx, p.dispatch)
	if err != nil {
		p.metrics.errors.Add(1)
		return fmt.Errorf("xproxy: listen: %w", err)
	}
	p.sub = sub
	p.listenCh = ch
	p.listenCtx = ctx
	p.notifyAsync(Event{Type: ListenStart, Caller: p.cfg.Caller})
	return nil
}

// StopListening detaches the reply dispatcher. Safe to call when not listening.
func (p *Proxy) StopListening() error {
	p.mu.Lock()
	sub := p.sub
	caller := p.cfg.Caller
	p.sub = nil
	p.listenCh = nil
	p.mu.Unlock()

	if sub == nil {
		return nil
	}
	p.notifyAsync(Event{Type: ListenStop, Caller: caller})
	return sub.Close()
}

// Listening reports whether the reply dispatcher is attached.
func (p *Proxy) Listening() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sub != nil
}

// SendMessage wraps p, posts it on the send channel and returns a Deferred
// that settles when the matching reply arrives.
//
// For fire-and-forget payloads nothing is registered and the returned Deferred
// is already resolved with a nil envelope.
func (p *Proxy) SendMessage(ctx context.Context, pl Payload) (*Deferred[*Envelope], error) {
	d, _, _, err := p.send(ctx, pl)
	return d, err
}

func (p *Proxy) send(ctx context.Context, pl Payload) (*Deferred[*Envelope], string, *pendingEntry, error) {
	if p.closed.Load() {
		return nil, "", nil, ErrProxyClosed
	}
	if pl.Action == "" {
		return nil, "", nil, ErrInvalidAction
	}

	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	if cfg.SendChannel == nil {
		p.metrics.errors.Add(1)
		return nil, "", nil, ErrNoSendChannel
	}

	d := NewDeferred[*Envelope]()
	var (
		id    string
		entry *pendingEntry
		err   error
	)
	if pl.FireAndForget {
		id = p.newID()
	} else {
		entry = &pendingEntry{deferred: d, action: pl.Action, sentAt: p.clock.Now()}
		id, err = p.pending.reserve(p.newID, entry, p.timeout, p.expire)
		if err != nil {
			p.metrics.errors.Add(1)
			return nil, "", nil, err
		}
	}

	env, err := Wrap(p.codec, pl, cfg.Caller, cfg.Prefix, id)
	if err != nil {
		p.forget(id, entry)
		return nil, "", nil, err
	}
	data, err := p.codec.Marshal(env)
	if err != nil {
		p.forget(id, entry)
		return nil, "", nil, fmt.Errorf("xproxy: encode envelope: %w", err)
	}

	start := p.clock.Now()
	p.notifyAsync(Event{Type: SendStart, Action: pl.Action, TrackingID: id, Caller: cfg.Caller})

	err = cfg.SendChannel.Post(ctx, data)

	p.notifyAsync(Event{
		Type:       SendDone,
		Action:     pl.Action,
		TrackingID: id,
		Caller:     cfg.Caller,
		Duration:   p.clock.Since(start),
		Err:        err,
	})
	if err != nil {
		p.forget(id, entry)
		return nil, "", nil, fmt.Errorf("xproxy: post: %w", err)
	}
	p.metrics.sent.Add(1)

	if pl.FireAndForget {
		d.Resolve(nil)
	}
	return d, id, entry, nil
}

// Request sends p and waits for the reply or for ctx to end. When ctx ends
// first the pending entry is dropped; the request itself cannot be withdrawn.
func (p *Proxy) Request(ctx context.Context, pl Payload) (*Envelope, error) {
	d, id, entry, err := p.send(ctx, pl)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	select {
	case <-d.Done():
		return d.Result()
	case <-ctx.Done():
		if p.pending.takeIf(id, entry) {
			entry.stopTimer()
			d.Reject(ctx.Err())
			return nil, ctx.Err()
		}
		// whoever took the entry settles it right after
		<-d.Done()
		return d.Result()
	}
}

// Pending returns the number of requests waiting for a reply.
func (p *Proxy) Pending() int {
	return p.pending.len()
}

func (p *Proxy) forget(id string, entry *pendingEntry) {
	p.metrics.errors.Add(1)
	if entry == nil {
		return
	}
	if p.pending.takeIf(id, entry) {
		entry.stopTimer()
	}
}

func (p *Proxy) expire(id string, entry *pendingEntry) {
	if !p.pending.takeIf(id, entry) {
		return
	}
	p.metrics.timedOut.Add(1)
	entry.deferred.Reject(ErrTimeout)
	p.notifyAsync(Event{
		Type:       Timeout,
		Action:     entry.action,
		TrackingID: id,
		Duration:   p.clock.Since(entry.sentAt),
		Err:        ErrTimeout,
	})
}

// dispatch runs once per raw message observed on the receive channel.
func (p *Proxy) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.errors.Add(1)
			p.logger.Error().Str("panic", fmt.Sprint(r)).Msg("xproxy: reply dispatch panic (recovered)")
			p.notifyAsync(Event{Type: Error, Err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)})
		}
	}()

	p.mu.RLock()
	accept := p.cfg.ShouldHandleMessage
	p.mu.RUnlock()

	env, ok := Validate(p.codec, data, accept)
	if !ok {
		p.metrics.ignored.Add(1)
		return
	}
	id := env.TrackingProperties.ID
	entry, ok := p.pending.take(id)
	if !ok {
		p.metrics.ignored.Add(1)
		p.notifyAsync(Event{Type: ReplyIgnored, Action: env.Message.Action, TrackingID: id, Caller: env.Message.Caller})
		return
	}
	entry.stopTimer()

	latency := p.clock.Since(entry.sentAt)
	p.recordLatency(latency.Nanoseconds())

	if env.HasError() {
		rerr := env.RemoteError()
		p.metrics.rejected.Add(1)
		entry.deferred.Reject(rerr)
		p.notifyAsync(Event{
			Type:       ReplyRejected,
			Action:     entry.action,
			TrackingID: id,
			Caller:     env.Message.Caller,
			Duration:   latency,
			Err:        rerr,
		})
		return
	}

	p.metrics.resolved.Add(1)
	entry.deferred.Resolve(env)
	p.notifyAsync(Event{
		Type:       ReplyResolved,
		Action:     entry.action,
		TrackingID: id,
		Caller:     env.Message.Caller,
		Duration:   latency,
	})
}

// GetMetrics returns current proxy metrics.
func (p *Proxy) GetMetrics() Metrics {
	m := Metrics{
		Sent:              p.metrics.sent.Load(),
		Resolved:          p.metrics.resolved.Load(),
		Rejected:          p.metrics.rejected.Load(),
		Ignored:           p.metrics.ignored.Load(),
		TimedOut:          p.metrics.timedOut.Load(),
		Errors:            p.metrics.errors.Load(),
		Pending:           p.pending.len(),
		AvgReplyLatencyMs: float64(p.metrics.latencyNs.Load()) / 1e6,
	}
	if p.observerPool != nil {
		m.EventsDropped = p.observerPool.Stats().Dropped
	}
	return m
}

// Health reports "unhealthy" once closed and "degraded" when more than 5% of
// sent requests failed or timed out.
func (p *Proxy) Health(_ context.Context) HealthStatus {
	if p.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: p.clock.Now(),
			Message:   "proxy is closed",
		}
	}

	m := p.GetMetrics()
	status := "healthy"
	msg := ""
	if m.Sent > 0 {
		failRate := float64(m.Errors+m.TimedOut) / float64(m.Sent)
		if failRate > 0.05 {
			status = "degraded"
			msg = fmt.Sprintf("%.1f%% of requests failed or timed out", failRate*100)
		}
	}
	if !p.Listening() && m.Pending > 0 {
		status = "degraded"
		msg = "requests pending while not listening for replies"
	}

	return HealthStatus{
		Status:    status,
		Metrics:   m,
		Timestamp: p.clock.Now(),
		Message:   msg,
	}
}

// Close stops listening and rejects every pending request with ErrProxyClosed.
// Channels passed in as instances stay open; channels built by name are closed.
func (p *Proxy) Close(ctx context.Context) error {
	var closeErr error

	p.closeOnce.Do(func() {
		if err := p.StopListening(); err != nil {
			closeErr = err
		}
		p.closed.Store(true)

		for _, entry := range p.pending.drain() {
			entry.stopTimer()
			entry.deferred.Reject(ErrProxyClosed)
		}

		for _, ch := range p.owned {
			if err := ch.Close(ctx); err != nil {
				p.logger.Error().Err(err).Msg("xproxy: channel close failed")
				closeErr = err
			}
		}

		if p.observerPool != nil {
			if err := p.observerPool.Close(5 * time.Second); err != nil {
				p.logger.Warn().Err(err).Msg("xproxy: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (p *Proxy) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	p.observers = append(p.observers, obs)
	p.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of a non-comparable type,
// such as ObserverFunc, cannot be matched and are left in place; register a
// pointer type when removal is needed.
func (p *Proxy) RemoveObserver(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	p.observersMu.Lock()
	defer p.observersMu.Unlock()

	for i, o := range p.observers {
		if o == obs {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync hands e to the observer pool without blocking.
func (p *Proxy) notifyAsync(e Event) {
	if p.observerPool == nil || p.closed.Load() {
		return
	}

	p.observersMu.RLock()
	if len(p.observers) == 0 {
		p.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.observersMu.RUnlock()

	p.observerPool.Notify(e, observers)
}

// recordLatency keeps an exponential moving average of reply latency.
func (p *Proxy) recordLatency(ns int64) {
	const alpha = 0.2
	current := p.metrics.latencyNs.Load()
	if current == 0 {
		p.metrics.latencyNs.Store(ns)
		return
	}
	p.metrics.latencyNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
