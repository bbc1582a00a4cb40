package xproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(ids ...string) IDGenerator {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestRegistry_ReserveRegeneratesTakenIDs(t *testing.T) {
	r := newPendingRegistry(0)
	gen := sequence("a", "a", "", "b")

	id1, err := r.reserve(gen, &pendingEntry{}, 0, nil)
	require.NoError(t, err)
	id2, err := r.reserve(gen, &pendingEntry{}, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, "a", id1)
	assert.Equal(t, "b", id2, "taken and empty ids are skipped")
	assert.Equal(t, 2, r.len())
}

func TestRegistry_TakeAndTakeIf(t *testing.T) {
	r := newPendingRegistry(0)
	e := &pendingEntry{}
	id, err := r.reserve(sequence("x"), e, 0, nil)
	require.NoError(t, err)

	assert.False(t, r.takeIf(id, &pendingEntry{}), "a different entry under the same id")
	assert.True(t, r.takeIf(id, e))
	_, ok := r.take(id)
	assert.False(t, ok)
}

func TestRegistry_Max(t *testing.T) {
	r := newPendingRegistry(1)
	_, err := r.reserve(sequence("a", "b"), &pendingEntry{}, 0, nil)
	require.NoError(t, err)
	_, err = r.reserve(sequence("b"), &pendingEntry{}, 0, nil)
	assert.ErrorIs(t, err, ErrTooManyPending)
}

func TestRegistry_Expire(t *testing.T) {
	r := newPendingRegistry(0)
	fired := make(chan string, 1)
	e := &pendingEntry{}

	id, err := r.reserve(sequence("t"), e, 10*time.Millisecond, func(id string, got *pendingEntry) {
		assert.Same(t, e, got)
		fired <- id
	})
	require.NoError(t, err)
	require.NotNil(t, e.timer)

	select {
	case got := <-fired:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("expire not called")
	}
}

func TestRegistry_Drain(t *testing.T) {
	r := newPendingRegistry(0)
	gen := sequence("a", "b", "c")
	for i := 0; i < 3; i++ {
		_, err := r.reserve(gen, &pendingEntry{}, 0, nil)
		require.NoError(t, err)
	}
	assert.Len(t, r.drain(), 3)
	assert.Equal(t, 0, r.len())

	_, err := r.reserve(sequence("d"), &pendingEntry{}, 0, nil)
	assert.ErrorIs(t, err, ErrProxyClosed)
	assert.Equal(t, 0, r.len())
}
