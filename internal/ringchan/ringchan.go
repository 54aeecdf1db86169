// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

import (
	"sync"

	"go.uber.org/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
//	rc := ringchan.New[Record](64)
//	rc.Send(rec)           // never blocks
//	for r := range rc.C() { ... }
//
// Producers are serialized so a full buffer always makes room for the newest value.
// Sending after Close is a no-op.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	dropped     atomic.Int64
}

// Metrics is a snapshot of the channel counters.
type Metrics struct {
	Written     int64
	Overwritten int64
	// Dropped counts sends that arrived after Close.
	Dropped int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element when full.
// Returns true if an element was overwritten.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.dropped.Inc()
		return false
	}

	overwrote := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Inc()
			return overwrote
		default:
		}

		// full; consumers may have drained in between, so retry the send after dropping
		select {
		case <-rc.ch:
			rc.overwritten.Inc()
			overwrote = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Dropped:     rc.dropped.Load(),
	}
}
