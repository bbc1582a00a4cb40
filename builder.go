package xproxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ProxyBuilder constructs Proxy instances (Builder pattern).
type ProxyBuilder struct {
	prefix string
	caller string
	accept Predicate

	sendName    string
	sendCfg     map[string]any
	sendInst    Channel
	receiveName string
	receiveCfg  map[string]any
	receiveInst Channel
	ownedInst   []Channel

	codecName string
	codecInst Codec

	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	idGen       IDGenerator
	timeout     time.Duration
	maxPending  int
	poolWorkers int
	poolBuffer  int
}

// NewProxyBuilder returns a new builder with sensible defaults.
func NewProxyBuilder() *ProxyBuilder {
	return &ProxyBuilder{
		prefix:      DefaultPrefix,
		caller:      DefaultCaller(),
		codecName:   "json",
		idGen:       ShortID,
		poolWorkers: 2,
		poolBuffer:  256,
	}
}

// DefaultCaller is the endpoint name used when none is configured: the program name.
func DefaultCaller() string {
	if len(os.Args) == 0 || os.Args[0] == "" {
		return "xproxy"
	}
	return filepath.Base(os.Args[0])
}

func (pb *ProxyBuilder) WithPrefix(prefix string) *ProxyBuilder {
	if prefix != "" {
		pb.prefix = prefix
	}
	return pb
}

func (pb *ProxyBuilder) WithCaller(caller string) *ProxyBuilder {
	if caller != "" {
		pb.caller = caller
	}
	return pb
}

// WithShouldHandleMessage installs an extra acceptance filter for replies.
func (pb *ProxyBuilder) WithShouldHandleMessage(fn Predicate) *ProxyBuilder {
	pb.accept = fn
	return pb
}

// WithSendChannel builds the send channel by registered name. The proxy owns and closes it.
func (pb *ProxyBuilder) WithSendChannel(name string, cfg map[string]any) *ProxyBuilder {
	pb.sendName = name
	pb.sendCfg = cfg
	return pb
}

// WithSendChannelInstance accepts a ready Channel. The caller keeps ownership.
func (pb *ProxyBuilder) WithSendChannelInstance(ch Channel) *ProxyBuilder {
	pb.sendInst = ch
	return pb
}

// WithReceiveChannel builds the receive channel by registered name. The proxy owns and closes it.
func (pb *ProxyBuilder) WithReceiveChannel(name string, cfg map[string]any) *ProxyBuilder {
	pb.receiveName = name
	pb.receiveCfg = cfg
	return pb
}

// WithReceiveChannelInstance accepts a ready Channel. The caller keeps ownership.
func (pb *ProxyBuilder) WithReceiveChannelInstance(ch Channel) *ProxyBuilder {
	pb.receiveInst = ch
	return pb
}

// WithChannels uses one bidirectional Channel (a websocket, say) for both directions.
func (pb *ProxyBuilder) WithChannels(ch Channel) *ProxyBuilder {
	pb.sendInst = ch
	pb.receiveInst = ch
	return pb
}

// WithOwnedChannels is WithChannels, except the proxy closes ch on Close.
func (pb *ProxyBuilder) WithOwnedChannels(ch Channel) *ProxyBuilder {
	pb.WithChannels(ch)
	pb.ownedInst = append(pb.ownedInst, ch)
	return pb
}

func (pb *ProxyBuilder) WithCodec(name string) *ProxyBuilder {
	pb.codecName = name
	return pb
}

// WithCodecInstance accepts a ready Codec instance.
func (pb *ProxyBuilder) WithCodecInstance(c Codec) *ProxyBuilder {
	pb.codecInst = c
	return pb
}

func (pb *ProxyBuilder) WithObserver(obs ...Observer) *ProxyBuilder {
	for _, o := range obs {
		if o != nil {
			pb.observers = append(pb.observers, o)
		}
	}
	return pb
}

// WithObserverPool sizes the async observer dispatch.
func (pb *ProxyBuilder) WithObserverPool(workers, bufferSize int) *ProxyBuilder {
	pb.poolWorkers = workers
	pb.poolBuffer = bufferSize
	return pb
}

func (pb *ProxyBuilder) WithLogger(l *xlog.Logger) *ProxyBuilder {
	pb.logger = l
	return pb
}

func (pb *ProxyBuilder) WithClock(c xclock.Clock) *ProxyBuilder {
	pb.clock = c
	return pb
}

// WithIDGenerator swaps the tracking id generator (ShortID by default).
func (pb *ProxyBuilder) WithIDGenerator(gen IDGenerator) *ProxyBuilder {
	if gen != nil {
		pb.idGen = gen
	}
	return pb
}

// WithTimeout rejects requests with ErrTimeout when no reply arrives in d.
// Zero (the default) waits forever.
func (pb *ProxyBuilder) WithTimeout(d time.Duration) *ProxyBuilder {
	if d >= 0 {
		pb.timeout = d
	}
	return pb
}

// WithMaxPending bounds the number of outstanding requests. Zero means unbounded.
func (pb *ProxyBuilder) WithMaxPending(n int) *ProxyBuilder {
	if n >= 0 {
		pb.maxPending = n
	}
	return pb
}

func (pb *ProxyBuilder) Build() (*Proxy, error) {
	owned := append([]Channel(nil), pb.ownedInst...)

	send := pb.sendInst
	if send == nil && pb.sendName != "" {
		ch, err := NewChannel(pb.sendName, pb.sendCfg)
		if err != nil {
			return nil, fmt.Errorf("xproxy: send channel: %w", err)
		}
		send = ch
		owned = append(owned, ch)
	}

	receive := pb.receiveInst
	if receive == nil && pb.receiveName != "" {
		ch, err := NewChannel(pb.receiveName, pb.receiveCfg)
		if err != nil {
			closeAll(owned)
			return nil, fmt.Errorf("xproxy: receive channel: %w", err)
		}
		receive = ch
		owned = append(owned, ch)
	}

	var cd Codec
	if pb.codecInst != nil {
		cd = pb.codecInst
	} else {
		var err error
		cd, err = NewCodec(pb.codecName)
		if err != nil {
			closeAll(owned)
			return nil, err
		}
	}

	clk := pb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := pb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	defaults := Config{
		Prefix:              pb.prefix,
		Caller:              pb.caller,
		ReceiveChannel:      receive,
		SendChannel:         send,
		ShouldHandleMessage: pb.accept,
	}
	p := &Proxy{
		cfg:      defaults,
		defaults: defaults,
		pending:  newPendingRegistry(pb.maxPending),
		codec:    cd,
		clock:    clk,
		logger:   lg,
		newID:    pb.idGen,
		timeout:  pb.timeout,
		owned:    owned,
		metrics:  &proxyMetrics{},
	}

	p.observerPool = NewObserverPool(context.Background(), pb.poolWorkers, pb.poolBuffer)
	p.observerPool.onPanic = func(r any) {
		lg.Warn().Str("panic", fmt.Sprint(r)).Msg("xproxy: observer panic (recovered)")
	}

	// Attach logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range pb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		p.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range pb.observers {
		p.AddObserver(o)
	}

	return p, nil
}

func closeAll(chs []Channel) {
	for _, ch := range chs {
		_ = ch.Close(context.Background())
	}
}

// New constructs a Proxy via Builder and returns a close func for convenience.
func New(init func(b *ProxyBuilder)) (*Proxy, func() error, error) {
	b := NewProxyBuilder()
	if init != nil {
		init(b)
	}
	p, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return p.Close(context.Background()) }
	return p, closeFn, nil
}
