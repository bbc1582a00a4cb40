package xproxy

import (
	"context"
)

// Request is what a Responder hands to a Handler.
type Request struct {
	// Action is the requested operation with the namespace prefix removed.
	Action string
	// Envelope is the envelope as received.
	Envelope *Envelope
}

// Handler answers one request. The result becomes the reply content; a non-nil
// error becomes the reply's error field.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete requesting surface of a Proxy.
type API interface {
	Configure(cfg Config)
	StartListening(ctx context.Context) error
	StopListening() error
	SendMessage(ctx context.Context, p Payload) (*Deferred[*Envelope], error)
	Request(ctx context.Context, p Payload) (*Envelope, error)
	SendBatch(ctx context.Context, payloads ...Payload) ([]*Deferred[*Envelope], error)
	Notify(ctx context.Context, action string, content any) error
	Pending() int
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var (
	_ API           = (*Proxy)(nil)
	_ HealthChecker = (*Proxy)(nil)
)
