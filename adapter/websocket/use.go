package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/trickstertwo/xproxy"
)

const ChannelName = "websocket"

func init() {
	if err := xproxy.RegisterChannel(ChannelName, func(cfg map[string]any) (xproxy.Channel, error) {
		url, _ := cfg["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("websocket: url required")
		}
		timeout := 10 * time.Second
		switch v := cfg["dial_timeout"].(type) {
		case time.Duration:
			timeout = v
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				timeout = d
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return Dial(ctx, url, nil)
	}); err != nil {
		panic(fmt.Errorf("xproxy: failed to register channel %q: %w", ChannelName, err))
	}
}

// Use dials url and builds a Proxy that sends and receives on that one
// connection. The connection is closed together with the proxy.
func Use(ctx context.Context, url string, header http.Header, opts ...Option) (*xproxy.Proxy, error) {
	conn, err := Dial(ctx, url, header)
	if err != nil {
		return nil, err
	}
	pb := xproxy.NewProxyBuilder().WithOwnedChannels(conn)
	for _, o := range opts {
		if o != nil {
			o(pb)
		}
	}
	p, err := pb.Build()
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("websocket.Use: %w", err)
	}
	return p, nil
}

// Option configures the xproxy.Proxy construction when calling Use.
type Option func(*xproxy.ProxyBuilder)

func WithCaller(caller string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithCaller(caller) }
}

func WithPrefix(prefix string) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithPrefix(prefix) }
}

func WithTimeout(d time.Duration) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithTimeout(d) }
}

// WithShouldHandleMessage filters replies. On a shared connection the proxy
// also sees its own requests echoed back by some servers; filter them here.
func WithShouldHandleMessage(fn xproxy.Predicate) Option {
	return func(b *xproxy.ProxyBuilder) { b.WithShouldHandleMessage(fn) }
}
