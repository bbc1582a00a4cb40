package xproxy

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xproxy (prevents collisions).
type ctxKey string

const (
	codecCtxKey    ctxKey = "xproxy:codec"
	loggerCtxKey   ctxKey = "xproxy:logger"
	clockCtxKey    ctxKey = "xproxy:clock"
	envelopeCtxKey ctxKey = "xproxy:envelope"
)

// injectCodec attaches the active Codec into context for downstream handlers.
func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves a Codec previously injected into the context.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	c, ok := ctx.Value(codecCtxKey).(Codec)
	return c, ok && c != nil
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger)
	return l, ok && l != nil
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	c, ok := ctx.Value(clockCtxKey).(xclock.Clock)
	return c, ok && c != nil
}

func injectEnvelope(ctx context.Context, env *Envelope) context.Context {
	if env == nil {
		return ctx
	}
	return context.WithValue(ctx, envelopeCtxKey, env)
}

// EnvelopeFromContext returns the request envelope a Responder handler is serving.
func EnvelopeFromContext(ctx context.Context) (*Envelope, bool) {
	env, ok := ctx.Value(envelopeCtxKey).(*Envelope)
	return env, ok && env != nil
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}
