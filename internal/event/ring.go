package event

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity FIFO queue that overwrites its oldest entry when full.
// Safe for one producer and any number of consumers.
//
// Usage:
//
//	q := NewRing[domain.Trade](1024)
//	q.Push(trade)              // never blocks
//	for _, tr := range q.Drain(nil) { ... }
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int // index of the oldest entry
	size    int
	evicted atomic.Uint64
	notify  chan struct{}
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v. Returns true if the oldest entry was evicted to make room.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	evicted := false
	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		evicted = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.mu.Unlock()

	if evicted {
		r.evicted.Add(1)
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes and returns the oldest entry.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Drain removes all entries, appending them oldest-first to dst.
func (r *Ring[T]) Drain(dst []T) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for r.size > 0 {
		dst = append(dst, r.buf[r.head])
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
	return dst
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many entries were overwritten since creation.
func (r *Ring[T]) Evicted() uint64 {
	return r.evicted.Load()
}

// Notify is signalled (coalesced) after every Push so consumers can wait
// without polling.
func (r *Ring[T]) Notify() <-chan struct{} {
	return r.notify
}
