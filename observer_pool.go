package xproxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool fans proxy events out to observers on background goroutines,
// so a slow observer never stalls a send or a reply dispatch.
// Events are dropped, and counted, when the buffer is full.
type ObserverPool struct {
	events    chan *Event
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64

	// onPanic is told about observers that panicked.
	onPanic func(r any)
}

// NewObserverPool starts workers dispatch goroutines over a bufferSize queue.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 2
	}
	if bufferSize < 1 {
		bufferSize = 256
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		events:  make(chan *Event, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.run()
	}
	return op
}

// Notify queues e for the given observers. Never blocks.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	e.observers = observers

	select {
	case op.events <- &e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// drain what is already queued, then exit
			for {
				select {
				case e := <-op.events:
					op.dispatch(e)
				default:
					return
				}
			}
		case e := <-op.events:
			op.dispatch(e)
		}
	}
}

func (op *ObserverPool) dispatch(e *Event) {
	if e == nil {
		return
	}
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && op.onPanic != nil {
					op.onPanic(r)
				}
			}()
			obs.OnEvent(*e)
		}()
	}
	op.processed.Add(1)
}

// Close stops the workers after the queue drains, waiting at most timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.events),
		Workers:      op.workers,
		BufferSize:   cap(op.events),
	}
}
