// Package prom exports proxy lifecycle events as Prometheus metrics.
package prom

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/trickstertwo/xproxy"
)

// Observer is an xproxy.Observer backed by Prometheus collectors.
type Observer struct {
	events   *prometheus.CounterVec
	replies  *prometheus.HistogramVec
	sends    *prometheus.HistogramVec
	handled  *prometheus.HistogramVec
	failures *prometheus.CounterVec

	reg       prometheus.Registerer
	namespace string
}

var _ xproxy.Observer = (*Observer)(nil)

// New registers the collectors on reg under namespace (default "xproxy").
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "xproxy"
	}

	o := &Observer{
		reg:       reg,
		namespace: namespace,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Proxy lifecycle events by type.",
		}, []string{"type"}),
		replies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_duration_seconds",
			Help:      "Time from posting a request to settling it.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "outcome"}),
		sends: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_duration_seconds",
			Help:      "Time spent posting an envelope on the send channel.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		handled: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time a responder handler took to serve a request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_failures_total",
			Help:      "Envelopes the send channel refused.",
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{o.events, o.replies, o.sends, o.handled, o.failures} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, fmt.Errorf("prom: collector already registered: %w", err)
			}
			return nil, fmt.Errorf("prom: register: %w", err)
		}
	}
	return o, nil
}

// OnEvent never blocks: collectors are lock-free counters.
func (o *Observer) OnEvent(e xproxy.Event) {
	o.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case xproxy.SendDone:
		o.sends.WithLabelValues(e.Action).Observe(e.Duration.Seconds())
		if e.Err != nil {
			o.failures.WithLabelValues(e.Action).Inc()
		}
	case xproxy.ReplyResolved:
		o.replies.WithLabelValues(e.Action, "resolved").Observe(e.Duration.Seconds())
	case xproxy.ReplyRejected:
		o.replies.WithLabelValues(e.Action, "rejected").Observe(e.Duration.Seconds())
	case xproxy.Timeout:
		o.replies.WithLabelValues(e.Action, "timeout").Observe(e.Duration.Seconds())
	case xproxy.HandleDone:
		outcome := "ok"
		if e.Err != nil {
			outcome = "error"
		}
		o.handled.WithLabelValues(e.Action, outcome).Observe(e.Duration.Seconds())
	}
}

// PendingSource is anything that can report outstanding requests, e.g. *xproxy.Proxy.
type PendingSource interface {
	Pending() int
}

// WatchPending exposes src.Pending() as a gauge named "<namespace>_pending_requests".
func (o *Observer) WatchPending(src PendingSource, constLabels prometheus.Labels) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   o.namespace,
		Name:        "pending_requests",
		Help:        "Requests waiting for a reply.",
		ConstLabels: constLabels,
	}, func() float64 { return float64(src.Pending()) })
	if err := o.reg.Register(g); err != nil {
		return fmt.Errorf("prom: register pending gauge: %w", err)
	}
	return nil
}
