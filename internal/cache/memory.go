package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries caps a MemoryStore.
	DefaultMaxEntries = 10000

	sweepEvery = 128
)

type memItem struct {
	v       []byte
	expires time.Time
}

func (it memItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}

// MemoryStore is an in-process Store. Expired entries are dropped on read
// and swept every few writes; past the entry cap arbitrary entries are
// evicted.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]memItem
	now        func() time.Time
	maxEntries int
	writes     int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries overrides DefaultMaxEntries.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{items: map[string]memItem{}, now: time.Now, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if it.expired(s.now()) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return clone(it.v), true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memItem{v: clone(value)}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked()
	}
	if _, ok := s.items[key]; !ok && len(s.items) >= s.maxEntries {
		s.sweepLocked()
		for k := range s.items {
			if len(s.items) < s.maxEntries {
				break
			}
			delete(s.items, k)
		}
	}
	s.items[key] = it
	return nil
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for k, it := range s.items {
		if it.expired(now) {
			delete(s.items, k)
		}
	}
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
