package evictioncache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a bounded Store that evicts the least recently used entry once
// capacity is reached. Evicted entries stay valid for handles already handed
// out; only invalidation and replacement mark them invalid.
//
// A capacity of zero keeps nothing: InsertOrAssignAndGet still returns a
// usable handle, but subsequent Gets miss.
type LRU[K comparable, V any] struct {
	// mu serialises mutations so that replace and invalidate observe a
	// consistent previous entry. Get goes straight to the lru, which
	// synchronises itself.
	mu       sync.Mutex
	lru      *lru.Cache[K, *entry[V]]
	capacity int
}

// NewLRU creates an LRU store.
//
// Parameters:
//   - capacity: Maximum number of entries; zero disables retention
//
// Returns:
//   - The new store
//   - ErrInvalidCapacity if capacity is negative
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	s := &LRU[K, V]{capacity: capacity}
	if capacity > 0 {
		c, err := lru.New[K, *entry[V]](capacity)
		if err != nil {
			return nil, err
		}
		s.lru = c
	}
	return s, nil
}

// Capacity returns the configured maximum number of entries.
func (s *LRU[K, V]) Capacity() int {
	return s.capacity
}

// Get implements Store.
func (s *LRU[K, V]) Get(key K) (Handle[V], bool) {
	if s.lru == nil {
		return Handle[V]{}, false
	}

	e, ok := s.lru.Get(key)
	if !ok {
		return Handle[V]{}, false
	}
	return Handle[V]{e: e}, true
}

// InsertOrAssignAndGet implements Store.
func (s *LRU[K, V]) InsertOrAssignAndGet(key K, value V) Handle[V] {
	e := newEntry(value)
	if s.lru == nil {
		return Handle[V]{e: e}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.lru.Peek(key); ok {
		old.invalidate()
	}
	s.lru.Add(key, e)
	return Handle[V]{e: e}
}

// Invalidate implements Store.
func (s *LRU[K, V]) Invalidate(key K) {
	if s.lru == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lru.Peek(key); ok {
		e.invalidate()
		s.lru.Remove(key)
	}
}

// InvalidateIf implements Store.
func (s *LRU[K, V]) InvalidateIf(pred func(key K, value V) bool) {
	if s.lru == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if !ok || !pred(key, e.value) {
			continue
		}
		e.invalidate()
		s.lru.Remove(key)
	}
}

// Items implements Store. Entries are ordered from least to most recently used.
func (s *LRU[K, V]) Items() []Item[K, V] {
	if s.lru == nil {
		return nil
	}

	keys := s.lru.Keys()
	items := make([]Item[K, V], 0, len(keys))
	for _, key := range keys {
		if e, ok := s.lru.Peek(key); ok {
			items = append(items, Item[K, V]{Key: key, Value: e.value})
		}
	}
	return items
}

// Len implements Store.
func (s *LRU[K, V]) Len() int {
	if s.lru == nil {
		return 0
	}
	return s.lru.Len()
}
