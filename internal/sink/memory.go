package sink

import (
	"context"
	"sync"
)

// Memory is an in-process sink that retains published events, capped
// to the most recent maxEvents. It is the default sink for dry runs
// and the reference sink in tests.
type Memory struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
}

// NewMemory creates a memory sink keeping at most max events
// (10000 when max <= 0).
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 10000
	}
	return &Memory{
		events:    make([]*Event, 0, max),
		maxEvents: max,
	}
}

// Publish stores the event.
func (m *Memory) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	if len(m.events) > m.maxEvents {
		m.events = m.events[1:]
	}
	return nil
}

// Events returns a copy of the retained events.
func (m *Memory) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns the number of retained events.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
