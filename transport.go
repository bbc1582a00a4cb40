package xproxy

import (
	"context"
	"errors"
	"sync"
)

// Subscription represents an active listener that can be closed.
type Subscription interface {
	Close() error
}

// Channel is the Strategy interface for the one-way messaging link between two contexts.
// It has no request/response semantics of its own.
type Channel interface {
	// Post delivers data to whoever listens on this channel. Fire-and-forget.
	Post(ctx context.Context, data []byte) error
	// Listen calls handler once per message arriving on this channel.
	// Each call runs to completion before the next one starts on the same subscription.
	Listen(ctx context.Context, handler func(data []byte)) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// ChannelFactory constructs channels from a config blob.
type ChannelFactory func(cfg map[string]any) (Channel, error)

var (
	channelRegistryMu sync.RWMutex
	channelRegistry   = map[string]ChannelFactory{}
)

// RegisterChannel registers a channel adapter.
func RegisterChannel(name string, factory ChannelFactory) error {
	if name == "" {
		return errors.New("channel name must not be empty")
	}
	if factory == nil {
		return errors.New("channel factory must not be nil")
	}
	channelRegistryMu.Lock()
	channelRegistry[name] = factory
	channelRegistryMu.Unlock()
	return nil
}

// NewChannel constructs a channel by name with config.
func NewChannel(name string, cfg map[string]any) (Channel, error) {
	channelRegistryMu.RLock()
	f, ok := channelRegistry[name]
	channelRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownChannel{name: name}
	}
	return f(cfg)
}
