package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SharedStateStore. Notifications are
// delivered synchronously on Set, which makes test assertions
// deterministic. It intentionally offers nothing stronger than the
// interface contract so code exercised against it also holds on the
// redis backend.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	subs map[string]map[int]func(string)
	next int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		subs: make(map[string]map[int]func(string)),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored

	var listeners []func(string)
	for _, fn := range s.subs[key] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Subscribe(key string, fn func(key string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(string))
	}
	id := s.next
	s.next++
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}
