// Package stream carries transaction updates from the webhook to the listener.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
)

var ErrAlreadySubscribed = errors.New("stream already has a subscriber")

const (
	// finishedLimit bounds how many finished ids are remembered for dedup.
	finishedLimit = 10000
	// MaxAttempts is how often an update is delivered before a requeue drops it.
	MaxAttempts = 5
)

// Sink accepts updates produced by the commerce webhook.
type Sink interface {
	Publish(ctx context.Context, u entitlement.Update) error
}

// Source hands updates to a single consumer. The channel closes when ctx ends.
type Source interface {
	Subscribe(ctx context.Context) (<-chan entitlement.Update, error)
}

// Memory is an in-process stream. An update stays pending until finished or
// released; when a subscription ends, its unfinished updates are delivered
// again to the next one.
type Memory struct {
	mu         sync.Mutex
	pending    []*memoryEntry
	byID       map[string]*memoryEntry
	finished   map[string]struct{}
	order      []string
	notify     chan struct{}
	subscribed bool
}

type memoryEntry struct {
	update   entitlement.Update
	inFlight bool
	attempts int
}

func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]*memoryEntry),
		finished: make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

// Publish enqueues u. Ids already pending or finished are dropped.
func (m *Memory) Publish(_ context.Context, u entitlement.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.finished[u.ID]; done {
		return nil
	}
	if _, queued := m.byID[u.ID]; queued {
		return nil
	}

	e := &memoryEntry{update: u}
	m.pending = append(m.pending, e)
	m.byID[u.ID] = e
	m.signal()
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan entitlement.Update, error) {
	m.mu.Lock()
	if m.subscribed {
		m.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	m.subscribed = true
	m.signal()
	m.mu.Unlock()

	out := make(chan entitlement.Update)
	go m.deliver(ctx, out)
	return out, nil
}

func (m *Memory) deliver(ctx context.Context, out chan<- entitlement.Update) {
	defer func() {
		m.mu.Lock()
		for _, e := range m.pending {
			e.inFlight = false
		}
		m.subscribed = false
		m.mu.Unlock()
		close(out)
	}()

	for {
		e := m.next()
		if e == nil {
			select {
			case <-m.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		id := e.update.ID
		u := e.update.WithFinisher(func(context.Context) error {
			m.finish(id)
			return nil
		}).WithReleaser(func(_ context.Context, requeue bool) error {
			m.release(id, requeue)
			return nil
		})

		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Memory) next() *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.pending {
		if !e.inFlight {
			e.inFlight = true
			e.attempts++
			return e
		}
	}
	return nil
}

func (m *Memory) finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.remove(id) {
		return
	}
	m.finished[id] = struct{}{}
	m.order = append(m.order, id)
	if len(m.order) > finishedLimit {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

// release moves a requeued update behind the rest of the queue, or drops it
// once it has used up MaxAttempts. A dropped id may be published again.
func (m *Memory) release(id string, requeue bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return
	}
	if !requeue || e.attempts >= MaxAttempts {
		m.remove(id)
		return
	}

	m.remove(id)
	e.inFlight = false
	m.pending = append(m.pending, e)
	m.byID[id] = e
	m.signal()
}

func (m *Memory) remove(id string) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, e := range m.pending {
		if e.update.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	return true
}

// Pending returns the number of unfinished updates.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Memory) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
