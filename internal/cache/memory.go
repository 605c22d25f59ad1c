package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with optional least-recently-used eviction.
type Memory struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // Front is most recently used.
	now     func() time.Time
}

// NewMemory returns a store holding at most maxEntries; zero is unbounded.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		max:     max(maxEntries, 0),
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	m.order.MoveToFront(el)
	return el.Value.(Entry), nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	e, err := prepare(e, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[e.Key]; ok {
		el.Value = e
		m.order.MoveToFront(el)
		return nil
	}
	m.entries[e.Key] = m.order.PushFront(e)

	for m.max > 0 && m.order.Len() > m.max {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(Entry).Key)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.order.Remove(el)
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len(), nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
