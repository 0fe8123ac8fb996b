package marketdata

import "github.com/nathanyu/level2-book/internal/domain"

const defaultHistorySize = 100

// RingBuffer is a fixed-size circular buffer of recent deltas.
type RingBuffer struct {
	data  []domain.Delta
	head  int // next write position
	count int
}

// NewRingBuffer creates a ring buffer; capacity <= 0 uses the default.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &RingBuffer{data: make([]domain.Delta, capacity)}
}

// Push adds a delta, overwriting the oldest when full.
func (rb *RingBuffer) Push(d domain.Delta) {
	rb.data[rb.head] = d
	rb.head = (rb.head + 1) % len(rb.data)
	if rb.count < len(rb.data) {
		rb.count++
	}
}

// GetAll returns all deltas in sequence order.
func (rb *RingBuffer) GetAll() []domain.Delta {
	return rb.GetRecent(rb.count)
}

// GetRecent returns the N most recent deltas, oldest first.
func (rb *RingBuffer) GetRecent(n int) []domain.Delta {
	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	capacity := len(rb.data)
	result := make([]domain.Delta, n)
	start := (rb.head - n + capacity) % capacity
	for i := range n {
		result[i] = rb.data[(start+i)%capacity]
	}
	return result
}

// Len returns the number of buffered deltas.
func (rb *RingBuffer) Len() int {
	return rb.count
}
