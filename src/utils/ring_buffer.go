package utils

import "sync"

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer. Once full, each Append
// overwrites the oldest element. Safe for concurrent use.
// -----------------------------------------------------------------------------

type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1000
	}

	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds one element
func (rb *RingBuffer[T]) Append(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.index] = v
	rb.index = (rb.index + 1) % rb.capacity

	// Update size (never exceeds capacity)
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n newest elements, oldest first
func (rb *RingBuffer[T]) GetLatest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 || n <= 0 {
		return []T{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]T, count)

	// Latest data is at index-1
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer[T]) GetAll() []T {
	rb.mu.RLock()
	size := rb.size
	rb.mu.RUnlock()
	return rb.GetLatest(size)
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity (fixed)
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// Reset drops every element
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.index, rb.size = 0, 0
}
