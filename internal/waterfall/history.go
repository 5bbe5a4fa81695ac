package waterfall

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// History implements a thread-safe, fixed-capacity FIFO of spectrum rows.
// Rows are kept oldest to newest, never reordered, and evicted from the
// oldest end only.
type History struct {
	mu       sync.Mutex
	rows     []*spectrum.Row
	capacity int
}

// NewHistory creates an empty history holding up to capacity rows.
// Returns an error if the capacity is not positive.
func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid history capacity: %d", capacity)
	}
	return &History{
		rows:     make([]*spectrum.Row, 0, capacity),
		capacity: capacity,
	}, nil
}

// Push appends a row to the back, evicting the oldest rows when the capacity
// is exceeded. Returns an error if the row is nil.
func (h *History) Push(row *spectrum.Row) error {
	if row == nil {
		return fmt.Errorf("cannot push nil row")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.rows = append(h.rows, row)
	h.trim()
	return nil
}

// SetCapacity changes the capacity, immediately dropping the oldest rows if
// the buffer holds more than the new capacity. Rows are never added back.
func (h *History) SetCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid history capacity: %d", capacity)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.capacity = capacity
	h.trim()
	return nil
}

// Snapshot returns the rows, oldest first, without modifying the buffer
func (h *History) Snapshot() []*spectrum.Row {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.rows)
}

// Latest returns the newest row, or nil if the buffer is empty
func (h *History) Latest() *spectrum.Row {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.rows) == 0 {
		return nil
	}
	return h.rows[len(h.rows)-1]
}

// Len returns the current number of rows in the buffer
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rows)
}

// Capacity returns the maximum number of rows kept
func (h *History) Capacity() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capacity
}

// Reset removes all rows from the buffer
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.rows)
	h.rows = h.rows[:0]
}

func (h *History) trim() {
	if excess := len(h.rows) - h.capacity; excess > 0 {
		h.rows = slices.Delete(h.rows, 0, excess)
	}
}
