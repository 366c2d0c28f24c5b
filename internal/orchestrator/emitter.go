package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventGrace bounds how long a slow consumer may stall the orchestrator per event.
const DefaultEventGrace = 2 * time.Second

// Emitter receives lifecycle events. Emit must return within a bounded time.
type Emitter interface {
	Emit(event Event)
}

// DropCounter is implemented by emitters that can lose events.
type DropCounter interface {
	Dropped() int64
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event Event)

// Emit calls f(event).
func (f EmitterFunc) Emit(event Event) {
	f(event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(Event) {}

// ChannelEmitter delivers events over a buffered channel. When the buffer is full the
// sender waits up to the grace period, then drops the event and counts it. Dropped
// events are never retried. Once a grace period expires the consumer is treated as
// stalled and later events drop without waiting until a send goes through again.
type ChannelEmitter struct {
	ch     chan Event
	grace  time.Duration
	onDrop func(Event)

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	stalled atomic.Bool
}

// ChannelEmitterOption configures a ChannelEmitter.
type ChannelEmitterOption func(*ChannelEmitter)

// WithDropHook registers a callback invoked for every dropped event.
func WithDropHook(fn func(Event)) ChannelEmitterOption {
	return func(e *ChannelEmitter) {
		e.onDrop = fn
	}
}

// NewChannelEmitter creates an emitter with the given buffer size and grace period.
func NewChannelEmitter(buffer int, grace time.Duration, opts ...ChannelEmitterOption) *ChannelEmitter {
	if buffer < 0 {
		buffer = 0
	}
	if grace <= 0 {
		grace = DefaultEventGrace
	}
	e := &ChannelEmitter{
		ch:    make(chan Event, buffer),
		grace: grace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit sends event to the channel, waiting at most the grace period.
func (e *ChannelEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(event)
		return
	}

	select {
	case e.ch <- event:
		e.stalled.Store(false)
		return
	default:
	}

	if e.stalled.Load() {
		e.drop(event)
		return
	}

	timer := time.NewTimer(e.grace)
	defer timer.Stop()

	select {
	case e.ch <- event:
	case <-timer.C:
		e.stalled.Store(true)
		e.drop(event)
	}
}

func (e *ChannelEmitter) drop(event Event) {
	e.dropped.Add(1)
	if e.onDrop != nil {
		e.onDrop(event)
	}
}

// Events returns the receive side of the stream. It is closed by Close.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Close ends the stream. Later emits are counted as drops.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// Dropped returns the number of events lost so far.
func (e *ChannelEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// MultiEmitter forwards every event to each emitter in order.
type MultiEmitter []Emitter

// Emit forwards event to all emitters.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}

// Dropped sums the drop counts of the wrapped emitters.
func (m MultiEmitter) Dropped() int64 {
	var n int64
	for _, e := range m {
		if dc, ok := e.(DropCounter); ok {
			n += dc.Dropped()
		}
	}
	return n
}

// Collector records every event in memory. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit records event.
func (c *Collector) Emit(event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
