// Package framering provides the bounded, thread-safe ring buffer that sits
// between the network receive loop and the display pacer.
//
// The rest of the pipeline depends only on this package's Ring type:
//
//	receiver.Loop --Push--> Ring --PopOldest/PopLatest--> pacer / snapshot
//
// Every operation takes one mutex for the duration of a single call. Nothing
// in this package blocks, sleeps or performs I/O while holding it, so neither
// side of the buffer can stall the other for longer than a slot copy.
package framering

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Stats is a snapshot of ring counters.
type Stats struct {
	Pushed    uint64 `json:"pushed" msgpack:"pushed"`       // frames accepted by Push
	Popped    uint64 `json:"popped" msgpack:"popped"`       // frames returned by PopOldest/PopLatest
	Evicted   uint64 `json:"evicted" msgpack:"evicted"`     // unread frames discarded by Push (overflow)
	Discarded uint64 `json:"discarded" msgpack:"discarded"` // older frames discarded by PopLatest
	Rejected  uint64 `json:"rejected" msgpack:"rejected"`   // frames pushed after Close
}

// Ring is a fixed-capacity circular buffer of T with a configurable overflow
// policy.
//
// Semantics:
//   - 0 <= Occupancy() <= Capacity() at all times
//   - PopOldest returns frames in insertion order (DropOldest policy)
//   - vacated slots are reset to the zero value, so a removed frame is never
//     retained by the ring
//
// Thread-safety: all methods are safe for concurrent use. A single producer
// and a single consumer is the intended shape, but not required.
type Ring[T any] struct {
	mu     sync.Mutex
	slots  []T
	read   int // index of the oldest unread slot
	write  int // index of the next slot to write
	count  int
	policy Policy
	closed bool

	pushed    atomic.Uint64
	popped    atomic.Uint64
	evicted   atomic.Uint64
	discarded atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a ring of the given capacity and overflow policy.
//
// Returns ErrInvalidCapacity if capacity < 1 and ErrInvalidPolicy for an
// unknown policy.
func New[T any](capacity int, policy Policy) (*Ring[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPolicy, int(policy))
	}
	return &Ring[T]{
		slots:  make([]T, capacity),
		policy: policy,
	}, nil
}

// Push inserts v and returns how many buffered frames were discarded to make
// room for it.
//
// Algorithm:
//
//	DropOldest, not full:  slot[write] = v; write++; count++
//	DropOldest, full:      slot[read] zeroed; read++; slot[write] = v; write++
//	KeepLatest:            every unread slot zeroed; slot[write] = v;
//	                       read = write; write++; count = 1
//
// Push never blocks and never fails. After Close the frame is dropped and
// counted as rejected.
func (r *Ring[T]) Push(v T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.rejected.Add(1)
		return 0
	}

	evicted := 0
	switch r.policy {
	case KeepLatest:
		evicted = r.count
		r.clearLocked()
		r.read = r.write
		r.slots[r.write] = v
		r.write = r.next(r.write)
		r.count = 1
	default:
		if r.count == len(r.slots) {
			var zero T
			r.slots[r.read] = zero
			r.read = r.next(r.read)
			r.count--
			evicted = 1
		}
		r.slots[r.write] = v
		r.write = r.next(r.write)
		r.count++
	}

	r.pushed.Add(1)
	if evicted > 0 {
		r.evicted.Add(uint64(evicted))
	}
	return evicted
}

// PopOldest removes and returns the oldest unread frame.
// Returns false when the ring is empty; emptiness is not an error.
func (r *Ring[T]) PopOldest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.slots[r.read]
	r.slots[r.read] = zero
	r.read = r.next(r.read)
	r.count--
	r.popped.Add(1)
	return v, true
}

// PopLatest removes and returns the newest frame, discarding every older
// unread frame. Returns false when the ring is empty.
func (r *Ring[T]) PopLatest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	newest := (r.write - 1 + len(r.slots)) % len(r.slots)
	v := r.slots[newest]
	discarded := r.count - 1

	r.clearLocked()
	r.read = r.write
	r.count = 0

	r.popped.Add(1)
	if discarded > 0 {
		r.discarded.Add(uint64(discarded))
	}
	return v, true
}

// Occupancy is the number of unread frames.
func (r *Ring[T]) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity is the fixed slot count.
func (r *Ring[T]) Capacity() int {
	return len(r.slots)
}

// Policy returns the overflow policy the ring was created with.
func (r *Ring[T]) Policy() Policy {
	return r.policy
}

// Stats returns a counter snapshot. Lock-free.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Pushed:    r.pushed.Load(),
		Popped:    r.popped.Load(),
		Evicted:   r.evicted.Load(),
		Discarded: r.discarded.Load(),
		Rejected:  r.rejected.Load(),
	}
}

// Close releases every buffered frame. Afterwards Push drops its argument and
// both Pop methods report empty. Idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.clearLocked()
	r.count = 0
	r.read = r.write
}

// clearLocked zeroes every live slot. Caller holds r.mu.
func (r *Ring[T]) clearLocked() {
	var zero T
	for i, idx := 0, r.read; i < r.count; i, idx = i+1, r.next(idx) {
		r.slots[idx] = zero
	}
}

func (r *Ring[T]) next(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}
