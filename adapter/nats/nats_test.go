package nats

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xproxy"
)

func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("XPROXY_NATS_URL")
	if url == "" {
		t.Skip("XPROXY_NATS_URL not set")
	}
	return url
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"url":             "nats://broker:4222",
		"subject":         "host.replies",
		"queue":           "hosts",
		"connect_timeout": "1s",
		"max_reconnects":  float64(3),
	})

	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "host.replies", cfg.Subject)
	assert.Equal(t, "hosts", cfg.Queue)
	assert.Equal(t, time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 3, cfg.MaxReconnects)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ToMapRoundTrip(t *testing.T) {
	in := Defaults()
	in.Subject = "guest"
	in.Token = "secret"
	assert.Equal(t, in, ConfigFromMap(in.toMap()))
}

func TestConfig_ValidateRequiresSubject(t *testing.T) {
	assert.Error(t, Defaults().Validate())

	_, err := NewChannel(Defaults())
	assert.Error(t, err)
}

func TestNewChannelWithConn_RejectsNil(t *testing.T) {
	_, err := NewChannelWithConn(nil, "x")
	assert.Error(t, err)
}

func TestChannel_PostAndListen(t *testing.T) {
	cfg := Defaults()
	cfg.URL = natsURL(t)
	cfg.Subject = fmt.Sprintf("xproxy.test.%d", time.Now().UnixNano())

	ch, err := NewChannel(cfg)
	require.NoError(t, err)
	defer ch.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 1)
	sub, err := ch.Listen(ctx, func(data []byte) { got <- string(data) })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ch.Post(ctx, []byte("hello")))
	select {
	case s := <-got:
		assert.Equal(t, "hello", s)
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}
	assert.Equal(t, Stats{Published: 1, Received: 1}, ch.Stats())

	require.NoError(t, ch.Close(ctx))
	assert.ErrorIs(t, ch.Post(ctx, []byte("late")), ErrClosed)
}

func TestProxy_RoundTripOverSubjects(t *testing.T) {
	url := natsURL(t)
	suffix := time.Now().UnixNano()

	hostCfg := Defaults()
	hostCfg.URL, hostCfg.Subject = url, fmt.Sprintf("xproxy.host.%d", suffix)
	guestCfg := Defaults()
	guestCfg.URL, guestCfg.Subject = url, fmt.Sprintf("xproxy.guest.%d", suffix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proxy, err := Use(guestCfg, hostCfg, WithCaller("host"), WithTimeout(3*time.Second))
	require.NoError(t, err)
	defer proxy.Close(context.Background())
	require.NoError(t, proxy.StartListening(ctx))

	guestIn, err := NewChannel(guestCfg)
	require.NoError(t, err)
	defer guestIn.Close(context.Background())
	hostOut, err := NewChannel(hostCfg)
	require.NoError(t, err)
	defer hostOut.Close(context.Background())

	responder := xproxy.NewResponder(xproxy.ResponderConfig{
		Caller:         "guest",
		ReceiveChannel: guestIn,
		ReplyChannel:   hostOut,
	})
	responder.Handle("sum", func(ctx context.Context, req *xproxy.Request) (any, error) {
		nums, err := xproxy.DecodeContent[[]int](ctx, req.Envelope)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	require.NoError(t, responder.Listen(ctx))
	defer responder.Close(context.Background())

	env, err := proxy.Request(ctx, xproxy.Payload{Action: "sum", Content: []int{1, 2, 3}})
	require.NoError(t, err)

	total, err := xproxy.DecodeContentCodec[int](proxy.Codec(), env)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}
