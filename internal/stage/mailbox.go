package stage

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO with a blocking receive, used to hand work
// from a stage's Process goroutine to its worker without ever blocking the
// pipeline.
type mailbox[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{wake: make(chan struct{}, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// get blocks until an item is available or ctx ends.
func (m *mailbox[T]) get(ctx context.Context) (T, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, true
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// retain drops every queued item for which keep returns false.
func (m *mailbox[T]) retain(keep func(T) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, v := range m.items {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	var zero T
	for i := len(kept); i < len(m.items); i++ {
		m.items[i] = zero
	}
	m.items = kept
}

func (m *mailbox[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
