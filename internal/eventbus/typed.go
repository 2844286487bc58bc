package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultDepth is the number of events retained for slow receivers.
const DefaultDepth = 16

// ErrClosed is returned by Recv once the bus is closed and the receiver has
// drained every retained event.
var ErrClosed = errors.New("eventbus: closed")

// LaggedError reports that a receiver fell more than the history depth behind
// the publisher. Missed events are gone; the next Recv returns the oldest
// event still retained.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventbus: receiver lagged, %d events missed", e.Missed)
}

// TypedBus is a type-safe broadcast bus for events of type T. Publish never
// blocks: events are written into a bounded ring and every receiver reads at
// its own pace from its own cursor.
type TypedBus[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   uint64 // sequence number of the next published event
	wake   chan struct{}
	closed bool
}

// NewTyped creates a TypedBus retaining DefaultDepth events.
func NewTyped[T any]() *TypedBus[T] { return NewTypedWithDepth[T](DefaultDepth) }

// NewTypedWithDepth creates a TypedBus retaining depth events. Depth below one
// is raised to one.
func NewTypedWithDepth[T any](depth int) *TypedBus[T] {
	if depth < 1 {
		depth = 1
	}
	return &TypedBus[T]{ring: make([]T, depth), wake: make(chan struct{})}
}

// Depth returns the history depth of the bus.
func (b *TypedBus[T]) Depth() int { return len(b.ring) }

// Publish appends the event to the history and wakes waiting receivers.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ring[b.head%uint64(len(b.ring))] = e
	b.head++
	close(b.wake)
	b.wake = make(chan struct{})
}

// Subscribe registers a receiver that observes every event published from now on.
func (b *TypedBus[T]) Subscribe() *Receiver[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Receiver[T]{bus: b, next: b.head}
}

// Close stops publication. Receivers drain what is retained, then get ErrClosed.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

// Receiver is an independent cursor over a TypedBus. A Receiver must not be
// used from more than one goroutine at a time.
type Receiver[T any] struct {
	bus  *TypedBus[T]
	next uint64
}

// Recv returns the next event in publication order. It blocks until an event
// is available, the bus is closed or ctx is done. When the receiver fell
// behind, Recv returns a *LaggedError and moves the cursor to the oldest
// retained event.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		b := r.bus
		b.mu.Lock()
		depth := uint64(len(b.ring))
		if b.head > depth && r.next < b.head-depth {
			oldest := b.head - depth
			missed := oldest - r.next
			r.next = oldest
			b.mu.Unlock()
			return zero, &LaggedError{Missed: missed}
		}
		if r.next < b.head {
			e := b.ring[r.next%depth]
			r.next++
			b.mu.Unlock()
			return e, nil
		}
		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Pending returns the number of retained events not yet received.
func (r *Receiver[T]) Pending() int {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if r.next >= r.bus.head {
		return 0
	}
	n := r.bus.head - r.next
	if d := uint64(len(r.bus.ring)); n > d {
		n = d
	}
	return int(n)
}

// Skip moves the cursor past every published event. The caller must
// already serialise publishers so that no event slips between the skip and
// whatever snapshot it takes alongside.
func (r *Receiver[T]) Skip() {
	r.bus.mu.Lock()
	r.next = r.bus.head
	r.bus.mu.Unlock()
}
