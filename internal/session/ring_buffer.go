package session

import "sync"

// RingBuffer is a fixed-capacity circular buffer of finished session
// records, oldest first on read.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []Record
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]Record, capacity),
		capacity: capacity,
	}
}

// Write adds a record, overwriting the oldest when full.
func (rb *RingBuffer) Write(r Record) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = r
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all records in chronological order.
func (rb *RingBuffer) ReadAll() []Record {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]Record, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]Record, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Len returns the number of stored records.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.capacity
	}
	return rb.pos
}
