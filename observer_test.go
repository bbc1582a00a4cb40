package xproxy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPool_Dispatch(t *testing.T) {
	pool := NewObserverPool(context.Background(), 2, 16)
	var n atomic.Int32
	obs := ObserverFunc(func(Event) { n.Add(1) })

	for i := 0; i < 10; i++ {
		pool.Notify(Event{Type: SendDone}, []Observer{obs})
	}
	require.Eventually(t, func() bool { return n.Load() == 10 }, time.Second, 5*time.Millisecond)

	require.NoError(t, pool.Close(time.Second))
	pool.Notify(Event{Type: SendDone}, []Observer{obs})
	assert.Equal(t, uint64(10), pool.Stats().Processed)
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	pool := NewObserverPool(context.Background(), 1, 1)
	release := make(chan struct{})
	blocking := ObserverFunc(func(Event) { <-release })

	for i := 0; i < 10; i++ {
		pool.Notify(Event{Type: SendDone}, []Observer{blocking})
	}
	assert.Greater(t, pool.Stats().Dropped, uint64(0))

	close(release)
	require.NoError(t, pool.Close(time.Second))
}

func TestObserverPool_RecoversPanics(t *testing.T) {
	pool := NewObserverPool(context.Background(), 1, 4)
	var panics atomic.Int32
	pool.onPanic = func(any) { panics.Add(1) }
	var after atomic.Int32

	pool.Notify(Event{}, []Observer{
		ObserverFunc(func(Event) { panic("bad observer") }),
		ObserverFunc(func(Event) { after.Add(1) }),
	})
	require.Eventually(t, func() bool { return after.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), panics.Load())
	require.NoError(t, pool.Close(time.Second))
}

func TestProxy_AddRemoveObserver(t *testing.T) {
	in, out := newFakeChannel(), newFakeChannel()
	p := newTestProxy(t, in, out)

	var n atomic.Int32
	obs := &countingObserver{n: &n}
	p.AddObserver(obs)
	_, err := p.SendMessage(context.Background(), Payload{Action: "a", FireAndForget: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond, "send start and done")

	p.RemoveObserver(obs)
	_, err = p.SendMessage(context.Background(), Payload{Action: "b", FireAndForget: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), n.Load())
}

func TestProxy_RemoveObserverFuncIsNoop(t *testing.T) {
	in, out := newFakeChannel(), newFakeChannel()
	p := newTestProxy(t, in, out)

	var n atomic.Int32
	fn := ObserverFunc(func(Event) { n.Add(1) })
	p.AddObserver(fn)
	p.AddObserver(ObserverFunc(func(Event) {}))

	assert.NotPanics(t, func() { p.RemoveObserver(fn) })

	_, err := p.SendMessage(context.Background(), Payload{Action: "a", FireAndForget: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond)
}

type countingObserver struct{ n *atomic.Int32 }

func (c *countingObserver) OnEvent(Event) { c.n.Add(1) }
