package ledger

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity bounds the in-memory ledger.
const DefaultMemoryCapacity = 1000

// Memory keeps the most recent entries in process memory.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

var _ Store = (*Memory)(nil)

// NewMemory creates a ledger that retains at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	e = prepare(e)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
