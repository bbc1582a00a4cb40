package xproxy

import (
	"github.com/trickstertwo/xlog"
)

// Observer receives proxy lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits proxy events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	switch e.Type {
	case Error, ReplyRejected, Timeout:
		o.Logger.Warn().
			Str("type", string(e.Type)).
			Str("action", e.Action).
			Str("tracking_id", e.TrackingID).
			Str("caller", e.Caller).
			Err(e.Err).
			Msg("xproxy event")
	default:
		o.Logger.Debug().
			Str("type", string(e.Type)).
			Str("action", e.Action).
			Str("tracking_id", e.TrackingID).
			Str("caller", e.Caller).
			Dur("duration", e.Duration).
			Msg("xproxy event")
	}
}
