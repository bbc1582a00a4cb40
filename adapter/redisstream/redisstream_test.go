package redisstream

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xproxy"
)

// redisAddr returns the address of a test Redis or skips the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("XPROXY_REDIS_ADDR")
	if addr == "" {
		t.Skip("XPROXY_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return addr
}

// cleanupStream removes a stream and its consumer group.
func cleanupStream(t *testing.T, addr, stream, group string) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = client.XGroupDestroy(ctx, stream, group).Err()
	_ = client.Del(ctx, stream).Err()
}

func TestConfigFromMap_Defaults(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{"stream": "host"})

	assert.Equal(t, "127.0.0.1:6379", cfg.Addr)
	assert.Equal(t, "host", cfg.Stream)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 128, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Block)
	assert.True(t, cfg.AutoCreate)
	assert.Equal(t, cfg.Consumer, cfg.Group)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromMap_Overrides(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":               "redis:6380",
		"stream":             "guest",
		"consumer":           "guest-1",
		"group":              "guests",
		"concurrency":        4,
		"batch_size":         float64(32),
		"block":              "250ms",
		"auto_delete_on_ack": true,
		"max_len_approx":     int64(1000),
		"claim_min_idle":     "30s",
	})

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, "guest", cfg.Stream)
	assert.Equal(t, "guest-1", cfg.Consumer)
	assert.Equal(t, "guests", cfg.Group)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Block)
	assert.True(t, cfg.AutoDeleteOnAck)
	assert.Equal(t, int64(1000), cfg.MaxLenApprox)
	assert.Equal(t, 30*time.Second, cfg.ClaimMinIdle)
}

func TestConfig_ToMapRoundTrip(t *testing.T) {
	in := Defaults()
	in.Stream = "host"
	in.MaxLenApprox = 10

	out := ConfigFromMap(in.toMap())
	assert.Equal(t, in, out)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, cfg.Validate(), "stream is required")

	cfg.Stream = "s"
	cfg.Block = 0
	assert.Error(t, cfg.Validate())

	cfg.Block = time.Second
	cfg.ClaimMinIdle = time.Second
	cfg.ClaimInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestDecodeEntry(t *testing.T) {
	e, ok := decodeEntry("1-0", map[string]any{
		fieldPayload:    `{"a":1}`,
		fieldProducedAt: "1700000000000000000",
	})
	require.True(t, ok)
	assert.Equal(t, "1-0", e.id)
	assert.Equal(t, []byte(`{"a":1}`), e.payload)
	assert.Equal(t, int64(1700000000000000000), e.producedAt.UnixNano())

	_, ok = decodeEntry("2-0", map[string]any{"other": "x"})
	assert.False(t, ok)
}

func TestNewChannel_RejectsInvalidConfig(t *testing.T) {
	_, err := NewChannel(Config{Addr: "127.0.0.1:6379"})
	require.Error(t, err)
}

func TestChannel_PostAndListen(t *testing.T) {
	addr := redisAddr(t)
	stream := fmt.Sprintf("xproxy-test-%d", time.Now().UnixNano())

	cfg := Defaults()
	cfg.Addr = addr
	cfg.Stream = stream
	cfg.Block = 200 * time.Millisecond
	defer cleanupStream(t, addr, stream, cfg.Group)

	ch, err := NewChannel(cfg)
	require.NoError(t, err)
	defer ch.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan []byte, 4)
	sub, err := ch.Listen(ctx, func(data []byte) { got <- data })
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ch.Post(ctx, []byte("one")))
	require.NoError(t, ch.Post(ctx, []byte("two")))

	for _, want := range []string{"one", "two"} {
		select {
		case data := <-got:
			assert.Equal(t, want, string(data))
		case <-ctx.Done():
			t.Fatalf("timeout waiting for %q", want)
		}
	}

	require.Eventually(t, func() bool {
		return ch.(StatsProvider).Stats().Acked == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProxy_RoundTripOverStreams(t *testing.T) {
	addr := redisAddr(t)
	suffix := time.Now().UnixNano()
	hostStream := fmt.Sprintf("xproxy-host-%d", suffix)
	guestStream := fmt.Sprintf("xproxy-guest-%d", suffix)

	hostCfg := Defaults()
	hostCfg.Addr, hostCfg.Stream, hostCfg.Group, hostCfg.Block = addr, hostStream, "host", 200*time.Millisecond
	guestCfg := Defaults()
	guestCfg.Addr, guestCfg.Stream, guestCfg.Group, guestCfg.Block = addr, guestStream, "guest", 200*time.Millisecond
	defer cleanupStream(t, addr, hostStream, "host")
	defer cleanupStream(t, addr, guestStream, "guest")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	proxy, err := Use(guestCfg, hostCfg, WithCaller("host"), WithTimeout(5*time.Second))
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
	responder.Handle("ping", func(ctx context.Context, req *xproxy.Request) (any, error) {
		return "pong", nil
	})
	require.NoError(t, responder.Listen(ctx))
	defer responder.Close(context.Background())

	env, err := proxy.Request(ctx, xproxy.Payload{Action: "ping"})
	require.NoError(t, err)

	got, err := xproxy.DecodeContentCodec[string](xproxy.JSONCodec{}, env)
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
	assert.Equal(t, "guest", env.Message.Caller)
}
