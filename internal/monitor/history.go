package monitor

import (
	"fmt"
	"sync"
)

// History implements a thread-safe bounded buffer of recent cycle results,
// kept in sequence order. It lets an observer drain batches of completed
// cycles while the monitoring loop keeps appending: when the buffer reaches
// capacity, Flush releases the oldest block.
type History struct {
	capacity   int // Maximum number of results to hold
	flushCount int // Number of results released per flush when full

	mu      sync.Mutex
	results []*CycleResult
}

// NewHistory creates a cycle history holding up to capacity results and
// releasing flushCount results per flush. Returns an error if parameters are
// invalid.
func NewHistory(capacity, flushCount int) (*History, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("monitor: invalid history parameters: capacity=%d, flushCount=%d", capacity, flushCount)
	}
	return &History{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Insert adds a cycle result, keeping the buffer ordered by sequence even if
// results arrive out of order. Returns an error if the result is nil.
func (h *History) Insert(result *CycleResult) error {
	if result == nil {
		return fmt.Errorf("monitor: cannot insert nil cycle result")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Results normally arrive in sequence, so scan from the tail.
	i := len(h.results)
	for i > 0 && h.results[i-1].Sequence > result.Sequence {
		i--
	}

	h.results = append(h.results, nil)
	copy(h.results[i+1:], h.results[i:])
	h.results[i] = result
	return nil
}

// IsFull returns true if the buffer has reached its capacity.
func (h *History) IsFull() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results) >= h.capacity
}

// Flush removes and returns the oldest results from the buffer. Returns nil
// if the buffer is empty. The number of results returned is determined by
// the flushCount parameter and buffer state.
func (h *History) Flush() []*CycleResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.results) == 0 {
		return nil
	}

	count := h.flushCount
	if len(h.results) > h.capacity {
		count += len(h.results) - h.capacity
	}
	count = min(count, len(h.results))

	flushed := make([]*CycleResult, count)
	copy(flushed, h.results[:count])
	h.results = append(h.results[:0], h.results[count:]...)
	return flushed
}

// DrainAll removes and returns all results from the buffer. Returns nil if
// the buffer is empty.
func (h *History) DrainAll() []*CycleResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.results) == 0 {
		return nil
	}

	drained := make([]*CycleResult, len(h.results))
	copy(drained, h.results)
	h.results = nil
	return drained
}

// Size returns the current number of buffered results.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

// Clear removes all buffered results.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = nil
}
