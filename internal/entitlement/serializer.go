package entitlement

import (
	"context"
	"sync"
)

// Serializer runs at most one operation per key at a time. Operations on
// different keys never wait on each other.
type Serializer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewSerializer() *Serializer {
	return &Serializer{slots: make(map[string]*slot)}
}

// Do waits for key to be free and runs fn. It returns ctx.Err() if ctx ends first.
func (s *Serializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	sl := s.acquire(key)
	defer s.release(key, sl)

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	return fn(ctx)
}

func (s *Serializer) acquire(key string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[key] = sl
	}
	sl.refs++
	return sl
}

func (s *Serializer) release(key string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}

// Len returns the number of keys with a running or waiting operation.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
