package xproxy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChannel records every post and hands it synchronously to its listeners.
type fakeChannel struct {
	mu       sync.Mutex
	posted   [][]byte
	handlers map[int]func([]byte)
	nextID   int
	postErr  error
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[int]func([]byte))}
}

func (f *fakeChannel) Post(_ context.Context, data []byte) error {
	f.mu.Lock()
	if f.postErr != nil {
		err := f.postErr
		f.mu.Unlock()
		return err
	}
	if f.closed {
		f.mu.Unlock()
		return errors.New("fake channel closed")
	}
	f.posted = append(f.posted, append([]byte(nil), data...))
	f.mu.Unlock()

	f.deliver(data)
	return nil
}

func (f *fakeChannel) Listen(_ context.Context, handler func([]byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.handlers[id] = handler
	return subscriptionFunc(func() error {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeChannel) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// deliver hands data to every listener as if it arrived on the channel.
func (f *fakeChannel) deliver(data []byte) {
	f.mu.Lock()
	hs := make([]func([]byte), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeChannel) listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeChannel) posts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.posted...)
}

// lastEnvelope decodes the most recent post.
func (f *fakeChannel) lastEnvelope(t *testing.T) *Envelope {
	t.Helper()
	posts := f.posts()
	require.NotEmpty(t, posts)
	var env Envelope
	require.NoError(t, json.Unmarshal(posts[len(posts)-1], &env))
	return &env
}

type subscriptionFunc func() error

func (s subscriptionFunc) Close() error { return s() }

// newTestProxy builds a proxy listening on in and posting to out.
func newTestProxy(t *testing.T, in, out Channel, opts ...func(*ProxyBuilder)) *Proxy {
	t.Helper()
	b := NewProxyBuilder().
		WithCaller("host").
		WithSendChannelInstance(out).
		WithReceiveChannelInstance(in)
	for _, o := range opts {
		o(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// reply builds the raw JSON of a reply envelope.
func reply(t *testing.T, id string, message map[string]any) []byte {
	t.Helper()
	env := map[string]any{"message": message}
	if id != "" {
		env["trackingProperties"] = map[string]any{"id": id}
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}
