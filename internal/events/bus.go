// internal/events/bus.go
package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a typed multi-consumer publisher.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and its Dropped counter grows.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// Subscription is one consumer's view of a Bus.
type Subscription[T any] struct {
	id      uint64
	bus     *Bus[T]
	ch      chan T
	once    sync.Once
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe registers a consumer with the given buffer size (minimum 1).
// Subscribing to a closed bus returns an already-closed subscription.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription[T]{bus: b, ch: make(chan T, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers v to every current subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Add(1)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// C is the receive side. It is closed after Unsubscribe or Bus.Close.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped is the number of events lost to a full buffer.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe detaches the subscription and closes C. Safe to call twice.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}
