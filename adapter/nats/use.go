package nats

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xproxy"
)

const ChannelName = "nats"

func init() {
	if err := xproxy.RegisterChannel(ChannelName, func(cfg map[string]any) (xproxy.Channel, error) {
		return NewChannel(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xproxy: failed to register channel %q: %w", ChannelName, err))
	}
}

// Use builds a Proxy that publishes requests on send.Subject and listens for
// replies on receive.Subject. Both connections are owned by the proxy.
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
		return nil, fmt.Errorf("nats.Use: %w", err)
	}
	return p, nil
}

// Option configures the xproxy.Proxy construction when calling Use.
type Option func(*xproxy.ProxyBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithLogger(l) }
}

func WithCaller(caller string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithCaller(caller) }
}

func WithPrefix(prefix string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithPrefix(prefix) }
}

func WithTimeout(d time.Duration) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithTimeout(d) }
}
