package redisstream

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xproxy"
)

const ChannelName = "redis-streams"

func init() {
	if err := xproxy.RegisterChannel(ChannelName, func(cfg map[string]any) (xproxy.Channel, error) {
		return NewChannel(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xproxy: failed to register channel %q: %w", ChannelName, err))
	}
}

// Use builds a Proxy that posts requests to the send stream and reads replies
// from the receive stream. Both channels are owned by the returned proxy.
func Use(send, receive Config, opts ...Option) (*xproxy.Proxy, error) {
	pb := xproxy.NewProxyBuilder().
		WithSendChannel(ChannelName, send.toMap()).
		WithReceiveChannel(ChannelName, receive.toMap())

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	p, err := pb.Build()
	if err != nil {
		return nil, fmt.Errorf("redisstream.Use: %w", err)
	}
	return p, nil
}

// Option configures the xproxy.Proxy construction when calling Use.
type Option func(*xproxy.ProxyBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithClock(c) }
}

// WithPrefix sets the action namespace.
func WithPrefix(prefix string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithPrefix(prefix) }
}

// WithCaller sets the endpoint name stamped on requests.
func WithCaller(caller string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithCaller(caller) }
}

// WithTimeout rejects requests left unanswered for d.
func WithTimeout(d time.Duration) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xproxy.Observer) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithObserver(obs...) }
}
