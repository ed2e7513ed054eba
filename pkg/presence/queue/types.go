package queue

import (
	"errors"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Kind identifies the handler the engine worker should invoke for this
// event. It is set by the enqueueing code (the API layer), which has the
// authoritative intent; the worker never probes payloads to dispatch.
type Kind string

const (
	KindMessageFinalized Kind = "message.finalized"
	KindTurnStart        Kind = "turn.start"
	KindTurnAborted      Kind = "turn.aborted"
	KindCommand          Kind = "command"
	KindPresenceToggle   Kind = "presence.toggle"
	KindIgnoreToggle     Kind = "ignore.toggle"
	KindBindGroup        Kind = "conversation.bind"
	KindPrune            Kind = "messages.pruned"
	KindRead             Kind = "messages.read"
	KindSettingsGet      Kind = "settings.get"
	KindSettingsPut      Kind = "settings.put"
	KindPersist          Kind = "persist"
)

// Reply carries a handler's synchronous result back to the enqueueing
// caller. Buffered channels of size one; the worker never blocks on send.
type Reply struct {
	Value any
	Err   error
}

// Event is one unit of work for the engine's serialized queue. Payload
// may be backed by a pooled ByteBuffer; consumers must call Item.Done()
// when finished with it.
type Event struct {
	Kind         Kind
	Conversation string
	// Payload holds the JSON-encoded event body (may be nil).
	Payload []byte
	// EnqSeq is a monotonic sequence assigned on acceptance, for
	// deterministic ordering in logs.
	EnqSeq uint64
	// ReplyTo, when non-nil, receives exactly one Reply from the worker.
	ReplyTo chan Reply
}

// Item wraps an Event and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Event *Event

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			it.q.release()
			it.q = nil
		}
		if it.buf != nil {
			bytebufferpool.Put(it.buf)
			it.buf = nil
		}
		it.Event.Payload = nil
		eventPool.Put(it.Event)
		it.Event = nil
	})
}

var eventPool = sync.Pool{New: func() any { return new(Event) }}

// Queue errors.
var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)
