package xproxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ResponderConfig configures the answering side of a channel pair.
type ResponderConfig struct {
	// Prefix must match the requesting proxy's prefix (default "blipEvent:").
	Prefix string
	// Caller identifies this endpoint on replies. Envelopes carrying the same
	// caller are treated as our own echo and skipped.
	Caller string
	// ReceiveChannel is where requests arrive.
	ReceiveChannel Channel
	// ReplyChannel is where replies are posted.
	ReplyChannel Channel
	// ShouldHandleMessage further filters incoming envelopes.
	ShouldHandleMessage Predicate
}

// ResponderOption customizes a Responder.
type ResponderOption func(*Responder)

func WithResponderCodec(c Codec) ResponderOption {
	return func(r *Responder) {
		if c != nil {
			r.codec = c
		}
	}
}

func WithResponderLogger(l *xlog.Logger) ResponderOption {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithResponderClock(c xclock.Clock) ResponderOption {
	return func(r *Responder) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithResponderMiddleware wraps every handler registered after it. Handlers are
// always wrapped by RecoveryMiddleware as well.
func WithResponderMiddleware(mw ...Middleware) ResponderOption {
	return func(r *Responder) { r.middlewares = append(r.middlewares, mw...) }
}

// WithResponderObserver reports a HandleDone event per served request.
// Observers run on the delivery goroutine and must not block.
func WithResponderObserver(obs ...Observer) ResponderOption {
	return func(r *Responder) {
		for _, o := range obs {
			if o != nil {
				r.observers = append(r.observers, o)
			}
		}
	}
}

// ResponderStats counts what a Responder did.
type ResponderStats struct {
	Handled uint64
	Failed  uint64
	Skipped uint64
	Replies uint64
}

// Responder routes prefixed requests to handlers by action and posts the
// result back under the request's tracking id.
type Responder struct {
	cfg         ResponderConfig
	codec       Codec
	logger      *xlog.Logger
	clock       xclock.Clock
	middlewares []Middleware
	observers   []Observer

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	subMu sync.Mutex
	sub   Subscription

	closed  atomic.Bool
	handled atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
	replies atomic.Uint64
}

// NewResponder returns a Responder that is not yet listening.
func NewResponder(cfg ResponderConfig, opts ...ResponderOption) *Responder {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Caller == "" {
		cfg.Caller = DefaultCaller()
	}
	r := &Responder{
		cfg:      cfg,
		codec:    JSONCodec{},
		logger:   xlog.Default(),
		clock:    xclock.Default(),
		handlers: make(map[string]Handler),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Handle registers h for the unprefixed action name, replacing any previous handler.
func (r *Responder) Handle(action string, h Handler) {
	if action == "" || h == nil {
		return
	}
	wrapped := Chain(RecoveryMiddleware()(h), r.middlewares...)
	r.handlersMu.Lock()
	r.handlers[action] = wrapped
	r.handlersMu.Unlock()
}

// Listen starts serving requests. Calling it while already listening is a no-op.
func (r *Responder) Listen(ctx context.Context) error {
	if r.closed.Load() {
		return ErrResponderClosed
	}
	if r.cfg.ReceiveChannel == nil {
		return ErrNoReceiveChannel
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.sub != nil {
		return nil
	}

	base := InjectAll(ctx, r.codec, r.logger, r.clock)
	sub, err := r.cfg.ReceiveChannel.Listen(ctx, func(data []byte) { r.serve(base, data) })
	if err != nil {
		return fmt.Errorf("xproxy: responder listen: %w", err)
	}
	r.sub = sub
	return nil
}

// Stop detaches from the receive channel. Safe to call when not listening.
func (r *Responder) Stop() error {
	r.subMu.Lock()
	sub := r.sub
	r.sub = nil
	r.subMu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}

// Close stops listening for good. Channels stay owned by the caller.
func (r *Responder) Close(_ context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.Stop()
}

// Stats returns current responder counters.
func (r *Responder) Stats() ResponderStats {
	return ResponderStats{
		Handled: r.handled.Load(),
		Failed:  r.failed.Load(),
		Skipped: r.skipped.Load(),
		Replies: r.replies.Load(),
	}
}

func (r *Responder) serve(ctx context.Context, data []byte) {
	env, ok := Validate(r.codec, data, r.cfg.ShouldHandleMessage)
	if !ok || env.HasError() || env.Message.Caller == r.cfg.Caller {
		r.skipped.Add(1)
		return
	}
	if !strings.HasPrefix(env.Message.Action, r.cfg.Prefix) {
		r.skipped.Add(1)
		return
	}
	action := strings.TrimPrefix(env.Message.Action, r.cfg.Prefix)

	r.handlersMu.RLock()
	h, found := r.handlers[action]
	r.handlersMu.RUnlock()
	if !found {
		h = func(context.Context, *Request) (any, error) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
		}
	}

	start := r.clock.Now()
	result, err := h(injectEnvelope(ctx, env), &Request{Action: action, Envelope: env})
	elapsed := r.clock.Since(start)
	if err != nil {
		r.failed.Add(1)
	} else {
		r.handled.Add(1)
	}
	r.logger.Debug().
		Str("action", action).
		Str("tracking_id", env.TrackingProperties.ID).
		Str("caller", env.Message.Caller).
		Dur("duration", elapsed).
		Err(err).
		Msg("xproxy: request handled")

	for _, o := range r.observers {
		o.OnEvent(Event{
			Type:       HandleDone,
			Action:     action,
			TrackingID: env.TrackingProperties.ID,
			Caller:     env.Message.Caller,
			Duration:   elapsed,
			Err:        err,
		})
	}

	if env.Message.FireAndForget {
		return
	}
	if err := r.reply(ctx, env, result, err); err != nil {
		r.logger.Warn().
			Str("action", action).
			Str("tracking_id", env.TrackingProperties.ID).
			Err(err).
			Msg("xproxy: reply failed")
	}
}

func (r *Responder) reply(ctx context.Context, req *Envelope, result any, handlerErr error) error {
	if r.cfg.ReplyChannel == nil {
		return ErrNoSendChannel
	}
	out := Envelope{
		Message: Message{
			Action: req.Message.Action,
			Caller: r.cfg.Caller,
		},
		TrackingProperties: req.TrackingProperties,
	}
	if handlerErr == nil && result != nil {
		content, err := r.codec.Marshal(result)
		if err != nil {
			handlerErr = fmt.Errorf("encode result: %w", err)
		} else {
			out.Message.Content = content
		}
	}
	if handlerErr != nil {
		msg, err := r.codec.Marshal(handlerErr.Error())
		if err != nil {
			return err
		}
		out.Message.Error = msg
	}

	data, err := r.codec.Marshal(out)
	if err != nil {
		return err
	}
	if err := r.cfg.ReplyChannel.Post(ctx, data); err != nil {
		return err
	}
	r.replies.Add(1)
	return nil
}
