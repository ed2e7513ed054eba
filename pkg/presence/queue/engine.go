package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Default and configuration values.
const defaultQueueCapacity = 1024
const fallbackQueueCapacity = 64

// Counters for instrumentation.
var (
	enqueueTotal     uint64
	enqueueFailTotal uint64
	enqSeq           uint64
)

// Queue is a threadsafe, fixed-size in-memory queue of engine events.
// A single worker drains it, which is what serializes all ledger and
// reconciler work: handlers run to completion, one at a time.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32

	enqWg     sync.WaitGroup
	closeOnce sync.Once
	inFlight  int64
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out exposes items for the consumer (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) release() { atomic.AddInt64(&q.inFlight, -1) }

// InFlight returns the number of items accepted but not yet Done().
func (q *Queue) InFlight() int64 { return atomic.LoadInt64(&q.inFlight) }

// Dropped returns the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

func (q *Queue) prepare(ev *Event) (*Item, *bytebufferpool.ByteBuffer) {
	newEv := eventPool.Get().(*Event)
	*newEv = *ev
	newEv.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(ev.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], ev.Payload...)
		newEv.Payload = bb.B[:len(ev.Payload)]
	}
	return &Item{Event: newEv, buf: bb, q: q}, bb
}

func (q *Queue) discard(it *Item, bb *bytebufferpool.ByteBuffer) {
	if bb != nil {
		bytebufferpool.Put(bb)
	}
	it.Event.Payload = nil
	eventPool.Put(it.Event)
	atomic.AddUint64(&q.dropped, 1)
	atomic.AddUint64(&enqueueFailTotal, 1)
}

// TryEnqueue enqueues an event without blocking; ErrQueueFull when full.
func (q *Queue) TryEnqueue(ev *Event) error {
	atomic.AddUint64(&enqueueTotal, 1)
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	it, bb := q.prepare(ev)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	default:
		q.discard(it, bb)
		return ErrQueueFull
	}
}

// Enqueue blocks until the event is accepted or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, ev *Event) error {
	atomic.AddUint64(&enqueueTotal, 1)
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&enqueueFailTotal, 1)
		return ErrQueueClosed
	}

	it, bb := q.prepare(ev)
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	case <-ctx.Done():
		q.discard(it, bb)
		return ctx.Err()
	}
}

// RunWorker dequeues items and calls handler for each, calling Item.Done()
// always. Exits when stop fires or the queue closes.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Event)) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				handler(it.Event)
			}(it)
		case <-stop:
			return
		}
	}
}

// Close rejects further enqueues and closes the channel once pending
// enqueuers have finished.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
	})
}
