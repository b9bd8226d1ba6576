// Package ringbuf provides a bounded ring buffer for outbound updates.
// When full, Push evicts the oldest entry so a stalled consumer sees the
// freshest window instead of an ever-growing backlog.
package ringbuf

import (
	"sync"

	"marketpulse/internal/model"
)

// Ring is a bounded drop-oldest buffer of updates.
// Size is rounded up to a power of two for fast bitwise modulo.
// Safe for concurrent use.
type Ring struct {
	mu   sync.Mutex
	buf  []model.Update
	mask uint64
	head uint64 // next write slot
	tail uint64 // next read slot

	dropped uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	cap := nextPow2(capacity)
	if cap < 2 {
		cap = 2
	}
	return &Ring{
		buf:  make([]model.Update, cap),
		mask: uint64(cap - 1),
	}
}

// Push appends an update. If the buffer is full the oldest update is
// evicted first; evicted returns true in that case. Non-blocking.
func (r *Ring) Push(u model.Update) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.head-r.tail >= uint64(len(r.buf)) {
		r.tail++ // drop oldest
		r.dropped++
		evicted = true
	}
	r.buf[r.head&r.mask] = u
	r.head++
	return evicted
}

// Pop retrieves the next update. Returns false if the buffer is empty.
// Non-blocking.
func (r *Ring) Pop() (model.Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tail >= r.head {
		return model.Update{}, false
	}
	u := r.buf[r.tail&r.mask]
	r.buf[r.tail&r.mask] = model.Update{} // release references
	r.tail++
	return u, true
}

// Len returns the current number of buffered updates.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.head - r.tail)
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns the total number of updates evicted due to a full buffer.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
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
