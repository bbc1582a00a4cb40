package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xproxy"
)

func TestConfigFromMap(t *testing.T) {
	assert.Equal(t, Config{BufferSize: 1024, Concurrency: 1}, ConfigFromMap(nil))
	assert.Equal(t, Config{BufferSize: 8, Concurrency: 3}, ConfigFromMap(map[string]any{
		"buffer_size": float64(8),
		"concurrency": int64(3),
	}))
	assert.Equal(t, Config{BufferSize: 1, Concurrency: 1}, ConfigFromMap(map[string]any{
		"buffer_size": -5,
		"concurrency": 0,
	}))
}

func TestChannel_DeliversToEveryListener(t *testing.T) {
	ch := NewChannel(Config{})
	defer ch.Close(context.Background())

	ctx := context.Background()
	a, b := make(chan string, 1), make(chan string, 1)
	subA, err := ch.Listen(ctx, func(d []byte) { a <- string(d) })
	require.NoError(t, err)
	defer subA.Close()
	subB, err := ch.Listen(ctx, func(d []byte) { b <- string(d) })
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, ch.Post(ctx, []byte("hi")))
	assert.Equal(t, "hi", <-a)
	assert.Equal(t, "hi", <-b)

	require.Eventually(t, func() bool { return ch.Stats().Delivered == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, Stats{Posted: 1, Delivered: 2, Listeners: 2}, ch.Stats())
}

func TestChannel_DropsWithoutListeners(t *testing.T) {
	ch := NewChannel(Config{})
	require.NoError(t, ch.Post(context.Background(), []byte("lost")))
	assert.Equal(t, uint64(1), ch.Stats().Dropped)
}

func TestChannel_SubscriptionClose(t *testing.T) {
	ch := NewChannel(Config{})
	var n atomic.Int32
	sub, err := ch.Listen(context.Background(), func([]byte) { n.Add(1) })
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, ch.Stats().Listeners)

	require.NoError(t, ch.Post(context.Background(), []byte("x")))
	assert.Zero(t, n.Load())
}

func TestChannel_Closed(t *testing.T) {
	ch := NewChannel(Config{})
	require.NoError(t, ch.Close(context.Background()))
	require.NoError(t, ch.Close(context.Background()))

	assert.ErrorIs(t, ch.Post(context.Background(), nil), ErrClosed)
	_, err := ch.Listen(context.Background(), func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_PostCopiesData(t *testing.T) {
	ch := NewChannel(Config{})
	defer ch.Close(context.Background())

	got := make(chan []byte, 1)
	sub, err := ch.Listen(context.Background(), func(d []byte) { got <- d })
	require.NoError(t, err)
	defer sub.Close()

	buf := []byte("abc")
	require.NoError(t, ch.Post(context.Background(), buf))
	buf[0] = 'z'
	assert.Equal(t, "abc", string(<-got))
}

func TestUse_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := Use(Config{}, WithCaller("host"), WithTimeout(time.Second))
	defer host.Close(context.Background())

	links := host.Config()
	guest := xproxy.NewResponder(xproxy.ResponderConfig{
		Caller:         "guest",
		ReceiveChannel: links.SendChannel,
		ReplyChannel:   links.ReceiveChannel,
	})
	guest.Handle("double", func(ctx context.Context, req *xproxy.Request) (any, error) {
		n, err := xproxy.DecodeContent[int](ctx, req.Envelope)
		return n * 2, err
	})
	require.NoError(t, guest.Listen(ctx))
	defer guest.Close(context.Background())
	require.NoError(t, host.StartListening(ctx))

	for i := 1; i <= 20; i++ {
		env, err := host.Request(ctx, xproxy.Payload{Action: "double", Content: i})
		require.NoError(t, err)
		got, err := xproxy.DecodeContentCodec[int](host.Codec(), env)
		require.NoError(t, err)
		assert.Equal(t, i*2, got)
	}
	assert.Equal(t, 0, host.Pending())
}

func TestUse_TimeoutWithoutGuest(t *testing.T) {
	host := Use(Config{}, WithTimeout(20*time.Millisecond))
	defer host.Close(context.Background())
	require.NoError(t, host.StartListening(context.Background()))

	_, err := host.Request(context.Background(), xproxy.Payload{Action: "nobody"})
	assert.ErrorIs(t, err, xproxy.ErrTimeout)
}

func TestNewPair(t *testing.T) {
	host, guest := NewPair(Config{BufferSize: 4})
	assert.NotSame(t, host, guest)
}

func TestFactoryRegistered(t *testing.T) {
	ch, err := xproxy.NewChannel(ChannelName, map[string]any{"buffer_size": 2})
	require.NoError(t, err)
	assert.IsType(t, &Channel{}, ch)
}
