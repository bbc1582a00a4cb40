package xproxy

import (
	"sync"
	"time"
)

// maxIDAttempts bounds the check-and-regenerate loop in reserve.
const maxIDAttempts = 8

// pendingEntry is one outstanding request.
type pendingEntry struct {
	deferred *Deferred[*Envelope]
	action   string
	sentAt   time.Time
	timer    *time.Timer
}

func (e *pendingEntry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// pendingRegistry maps tracking ids to outstanding requests of one proxy.
type pendingRegistry struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	max     int
	closed  bool
}

func newPendingRegistry(maxPending int) *pendingRegistry {
	return &pendingRegistry{
		entries: make(map[string]*pendingEntry),
		max:     maxPending,
	}
}

// reserve mints an id that no live entry uses and stores e under it.
// With a positive timeout, expire is scheduled for the entry.
func (r *pendingRegistry) reserve(gen IDGenerator, e *pendingEntry, timeout time.Duration, expire func(string, *pendingEntry)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrProxyClosed
	}
	if r.max > 0 && len(r.entries) >= r.max {
		return "", ErrTooManyPending
	}
	for i := 0; i < maxIDAttempts; i++ {
		id := gen()
		if id == "" {
			continue
		}
		if _, taken := r.entries[id]; taken {
			continue
		}
		r.entries[id] = e
		if timeout > 0 && expire != nil {
			e.timer = time.AfterFunc(timeout, func() { expire(id, e) })
		}
		return id, nil
	}
	return "", ErrIDCollision
}

// take removes and returns the entry for id.
func (r *pendingRegistry) take(id string) (*pendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// takeIf removes the entry for id only if it is still e.
func (r *pendingRegistry) takeIf(id string, e *pendingEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[id]; ok && cur == e {
		delete(r.entries, id)
		return true
	}
	return false
}

func (r *pendingRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// drain empties the registry and returns what it held. Later reserves fail
// with ErrProxyClosed.
func (r *pendingRegistry) drain() map[string]*pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	out := r.entries
	r.entries = make(map[string]*pendingEntry)
	return out
}
