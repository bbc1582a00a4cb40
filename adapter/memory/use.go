package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xproxy"
)

// Use builds a Proxy whose send and receive channels are fresh memory channels
// owned by the proxy. The guest side reaches them through Proxy.Config():
// it listens on SendChannel and replies on ReceiveChannel.
//
// Example:
//
//	p := memory.Use(memory.Config{BufferSize: 4096},
//	    memory.WithLogger(logger),
//	    memory.WithTimeout(2*time.Second),
//	)
func Use(cfg Config, opts ...Option) *xproxy.Proxy {
	pb := xproxy.NewProxyBuilder().
		WithSendChannel(ChannelName, cfg.toMap()).
		WithReceiveChannel(ChannelName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}

	p, err := pb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return p
}

// Option configures the xproxy.Proxy when calling Use.
type Option func(*xproxy.ProxyBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithClock(c) }
}

// WithPrefix sets the action namespace (default: "blipEvent:").
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

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithObserverPool(workers, bufferSize) }
}
