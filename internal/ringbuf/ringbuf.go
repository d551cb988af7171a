// Package ringbuf provides a fixed-capacity candle ring that evicts the oldest
// entry on overflow. The backing array is sized to a power of two so slot
// lookup is a bitwise mask; the logical capacity may be smaller.
//
// A Ring is not safe for concurrent use. Callers that share one across
// goroutines (see package window) must guard it themselves.
package ringbuf

import (
	"sync/atomic"

	"signal-enginev1/internal/model"
)

// Ring is a bounded FIFO of candles, oldest first.
type Ring struct {
	buf   []model.Candle
	mask  uint64
	limit int

	head uint64 // absolute index of the oldest element
	size int

	// Eviction counter (atomic, read by metrics without the owner's lock)
	evicted atomic.Uint64
}

// New creates a ring holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	n := nextPow2(capacity)
	return &Ring{
		buf:   make([]model.Candle, n),
		mask:  uint64(n - 1),
		limit: capacity,
	}
}

// Push appends c. When the ring is full the oldest candle is dropped and
// Push returns true.
func (r *Ring) Push(c model.Candle) bool {
	r.buf[(r.head+uint64(r.size))&r.mask] = c
	if r.size == r.limit {
		r.head++
		r.evicted.Add(1)
		return true
	}
	r.size++
	return false
}

// Last returns the newest candle.
func (r *Ring) Last() (model.Candle, bool) {
	if r.size == 0 {
		return model.Candle{}, false
	}
	return r.buf[(r.head+uint64(r.size-1))&r.mask], true
}

// SetLast overwrites the newest candle. Returns false on an empty ring.
func (r *Ring) SetLast(c model.Candle) bool {
	if r.size == 0 {
		return false
	}
	r.buf[(r.head+uint64(r.size-1))&r.mask] = c
	return true
}

// AppendTo appends the ring contents, oldest first, to dst and returns it.
func (r *Ring) AppendTo(dst []model.Candle) []model.Candle {
	for i := 0; i < r.size; i++ {
		dst = append(dst, r.buf[(r.head+uint64(i))&r.mask])
	}
	return dst
}

// Len returns the current number of candles in the ring.
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the logical capacity.
func (r *Ring) Cap() int {
	return r.limit
}

// Evicted returns the total number of candles dropped by overflow.
func (r *Ring) Evicted() uint64 {
	return r.evicted.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
