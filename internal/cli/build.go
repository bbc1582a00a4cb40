package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xproxy"
	"github.com/trickstertwo/xproxy/internal/config"
	"github.com/trickstertwo/xproxy/observer/prom"
)

// channels are the two directions described by a config. When the config
// names a single endpoint, send and receive are the same Channel.
type channels struct {
	send    xproxy.Channel
	receive xproxy.Channel
}

func openChannels(cfg config.Config) (*channels, error) {
	send, err := xproxy.NewChannel(cfg.Send.Transport, cfg.Send.Config)
	if err != nil {
		return nil, fmt.Errorf("open send channel: %w", err)
	}
	if cfg.Shared() {
		return &channels{send: send, receive: send}, nil
	}
	receive, err := xproxy.NewChannel(cfg.Receive.Transport, cfg.Receive.Config)
	if err != nil {
		_ = send.Close(context.Background())
		return nil, fmt.Errorf("open receive channel: %w", err)
	}
	return &channels{send: send, receive: receive}, nil
}

func (c *channels) shared() bool { return c.send == c.receive }

func (c *channels) Close(ctx context.Context) error {
	err := c.send.Close(ctx)
	if c.receive != c.send {
		err = errors.Join(err, c.receive.Close(ctx))
	}
	return err
}

func newProxy(cfg config.Config, ch *channels, logger *xlog.Logger, obs ...xproxy.Observer) (*xproxy.Proxy, error) {
	pb := xproxy.NewProxyBuilder().
		WithPrefix(cfg.Prefix).
		WithCaller(cfg.Caller).
		WithTimeout(cfg.Timeout).
		WithMaxPending(cfg.MaxPending).
		WithSendChannelInstance(ch.send).
		WithReceiveChannelInstance(ch.receive).
		WithLogger(logger).
		WithObserver(obs...)

	// A shared channel may echo our own requests back to us.
	if ch.shared() {
		caller := cfg.Caller
		if caller == "" {
			caller = xproxy.DefaultCaller()
		}
		pb.WithShouldHandleMessage(notFrom(caller))
	}
	return pb.Build()
}

// notFrom accepts envelopes sent by any caller other than caller.
func notFrom(caller string) xproxy.Predicate {
	return func(env *xproxy.Envelope) bool { return env.Message.Caller != caller }
}

// metricsServer serves /metrics when cfg.Addr is set. The returned observer
// is nil when metrics are disabled.
type metricsServer struct {
	observer *prom.Observer
	srv      *http.Server
}

func startMetrics(cfg config.Metrics, logger *xlog.Logger) (*metricsServer, error) {
	if cfg.Addr == "" {
		return &metricsServer{}, nil
	}
	reg := prometheus.NewRegistry()
	obs, err := prom.New(reg, cfg.Namespace)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", cfg.Addr).Msg("metrics server stopped")
		}
	}()
	return &metricsServer{observer: obs, srv: srv}, nil
}

func (m *metricsServer) observers() []xproxy.Observer {
	if m.observer == nil {
		return nil
	}
	return []xproxy.Observer{m.observer}
}

func (m *metricsServer) Close(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
