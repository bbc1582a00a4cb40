// Package websocket carries envelopes over a single WebSocket connection.
//
// A WebSocket is bidirectional, so one Conn usually serves as both the send and
// the receive channel of a Proxy (see xproxy.ProxyBuilder.WithChannels).
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trickstertwo/xproxy"
)

var ErrClosed = errors.New("websocket channel is closed")

const (
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
)

// Conn adapts a gorilla connection to xproxy.Channel. Every text or binary
// frame read from the peer is handed to all current listeners.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[uint64]func([]byte)
	nextID   uint64
	reading  bool

	done     chan struct{}
	readErr  error
	closed   atomic.Bool
	received atomic.Uint64
	sent     atomic.Uint64
}

var _ xproxy.Channel = (*Conn)(nil)

// Stats returns channel telemetry.
type Stats struct {
	Sent     uint64
	Received uint64
}

// Wrap adapts an established connection.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: defaultWriteTimeout,
		handlers:     make(map[uint64]func([]byte)),
		done:         make(chan struct{}),
	}
}

// Dial connects to url as a client.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	return Wrap(ws), nil
}

// Accept upgrades an incoming HTTP request. A nil upgrader accepts any origin.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader) (*Conn, error) {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		}
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: upgrade: %w", err)
	}
	return Wrap(ws), nil
}

// Done is closed once the peer disconnects or Close is called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Conn) Post(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	c.sent.Add(1)
	return nil
}

// Listen registers handler. The first call starts the read loop; handlers run
// on that loop, one frame at a time.
func (c *Conn) Listen(ctx context.Context, handler func(data []byte)) (xproxy.Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, errors.New("websocket channel: nil handler")
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = handler
	start := !c.reading
	c.reading = true
	c.mu.Unlock()

	if start {
		go c.readLoop()
	}

	s := &subscription{stop: make(chan struct{})}
	s.close = func() {
		close(s.stop)
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stop:
		case <-c.done:
		}
	}()
	return s, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.received.Add(1)

		c.mu.RLock()
		targets := make([]func([]byte), 0, len(c.handlers))
		for _, h := range c.handlers {
			targets = append(targets, h)
		}
		c.mu.RUnlock()

		for _, h := range targets {
			h(data)
		}
	}
}

// Close sends a normal close frame and tears the connection down.
func (c *Conn) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	c.writeMu.Unlock()

	c.mu.RLock()
	reading := c.reading
	c.mu.RUnlock()
	if reading {
		// give the peer a moment to echo the close frame
		select {
		case <-c.done:
		case <-time.After(closeGracePeriod):
		}
	}
	return c.ws.Close()
}

func (c *Conn) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
	}
}

type subscription struct {
	once  sync.Once
	stop  chan struct{}
	close func()
}

func (s *subscription) Close() error {
	s.once.Do(s.close)
	return nil
}
