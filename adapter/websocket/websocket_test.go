package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xproxy"
)

// newGuestServer serves a Responder on every accepted connection.
func newGuestServer(t *testing.T, register func(r *xproxy.Responder)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil)
		if err != nil {
			return
		}
		responder := xproxy.NewResponder(xproxy.ResponderConfig{
			Caller:         "guest",
			ReceiveChannel: conn,
			ReplyChannel:   conn,
		})
		register(responder)
		if err := responder.Listen(context.Background()); err != nil {
			_ = conn.Close(context.Background())
			return
		}
		<-conn.Done()
		_ = responder.Close(context.Background())
		_ = conn.Close(context.Background())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestProxy_RequestOverWebSocket(t *testing.T) {
	srv := newGuestServer(t, func(r *xproxy.Responder) {
		r.Handle("echo", func(ctx context.Context, req *xproxy.Request) (any, error) {
			return xproxy.DecodeContent[map[string]any](ctx, req.Envelope)
		})
		r.Handle("fail", func(context.Context, *xproxy.Request) (any, error) {
			return nil, errors.New("boom")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proxy, err := Use(ctx, wsURL(srv), nil, WithCaller("host"), WithTimeout(3*time.Second))
	require.NoError(t, err)
	defer proxy.Close(context.Background())
	require.NoError(t, proxy.StartListening(ctx))

	t.Run("resolves with reply", func(t *testing.T) {
		env, err := proxy.Request(ctx, xproxy.Payload{Action: "echo", Content: map[string]any{"n": 1}})
		require.NoError(t, err)
		assert.Equal(t, "blipEvent:echo", env.Message.Action)
		assert.Equal(t, "guest", env.Message.Caller)
		assert.JSONEq(t, `{"n":1}`, string(env.Message.Content))
	})

	t.Run("rejects with remote error", func(t *testing.T) {
		_, err := proxy.Request(ctx, xproxy.Payload{Action: "fail"})
		var rerr *xproxy.RemoteError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "boom", rerr.Error())
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := proxy.Request(ctx, xproxy.Payload{Action: "missing"})
		var rerr *xproxy.RemoteError
		require.ErrorAs(t, err, &rerr)
		assert.Contains(t, rerr.Error(), "no handler for action")
	})

	assert.Equal(t, 0, proxy.Pending())
}

func TestConn_PeerCloseEndsReadLoop(t *testing.T) {
	accepted := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	_, err = client.Listen(ctx, func([]byte) {})
	require.NoError(t, err)

	server := <-accepted
	require.NoError(t, server.Close(ctx))

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client read loop did not stop")
	}
	assert.NoError(t, client.Err())
	require.NoError(t, client.Close(ctx))
	assert.ErrorIs(t, client.Post(ctx, []byte("x")), ErrClosed)
}

func TestConn_SubscriptionCloseStopsDelivery(t *testing.T) {
	accepted := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer client.Close(ctx)
	server := <-accepted
	defer server.Close(ctx)

	first := make(chan string, 4)
	second := make(chan string, 4)
	sub1, err := client.Listen(ctx, func(b []byte) { first <- string(b) })
	require.NoError(t, err)
	_, err = client.Listen(ctx, func(b []byte) { second <- string(b) })
	require.NoError(t, err)

	require.NoError(t, server.Post(ctx, []byte("a")))
	assert.Equal(t, "a", <-first)
	assert.Equal(t, "a", <-second)

	require.NoError(t, sub1.Close())
	require.NoError(t, server.Post(ctx, []byte("b")))
	assert.Equal(t, "b", <-second)
	assert.Empty(t, first)
	assert.Equal(t, Stats{Sent: 0, Received: 2}, client.Stats())
}

func TestFactory_RequiresURL(t *testing.T) {
	_, err := xproxy.NewChannel(ChannelName, map[string]any{})
	assert.Error(t, err)
}
