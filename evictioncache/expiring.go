package evictioncache

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type expiringItem[K comparable, V any] struct {
	key K
	e   *entry[V]
}

// Expiring is an unbounded Store whose entries expire after a fixed TTL.
// Expiry counts as invalidation: once the janitor removes an expired entry,
// its handles report IsValid() == false.
type Expiring[K comparable, V any] struct {
	mu    sync.Mutex
	c     *cache.Cache
	keyFn func(K) string
}

// NewExpiring creates an Expiring store.
//
// Parameters:
//   - ttl: Lifetime of each entry (use cache.NoExpiration to keep entries forever)
//   - cleanupInterval: How often expired entries are removed; <= 0 disables the janitor
//   - keyFn: Converts keys to the strings used internally; must be injective.
//     If nil, keys are formatted with fmt.Sprint
//
// Returns:
//   - The new store
func NewExpiring[K comparable, V any](ttl, cleanupInterval time.Duration, keyFn func(K) string) *Expiring[K, V] {
	if keyFn == nil {
		keyFn = func(k K) string { return fmt.Sprint(k) }
	}

	c := cache.New(ttl, cleanupInterval)
	c.OnEvicted(func(_ string, v any) {
		if it, ok := v.(expiringItem[K, V]); ok {
			it.e.invalidate()
		}
	})

	return &Expiring[K, V]{c: c, keyFn: keyFn}
}

// Get implements Store.
func (s *Expiring[K, V]) Get(key K) (Handle[V], bool) {
	v, found := s.c.Get(s.keyFn(key))
	if !found {
		return Handle[V]{}, false
	}

	it, ok := v.(expiringItem[K, V])
	if !ok {
		return Handle[V]{}, false
	}
	return Handle[V]{e: it.e}, true
}

// InsertOrAssignAndGet implements Store.
func (s *Expiring[K, V]) InsertOrAssignAndGet(key K, value V) Handle[V] {
	e := newEntry(value)
	k := s.keyFn(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete fires OnEvicted for the previous entry, even if it had expired.
	s.c.Delete(k)
	s.c.SetDefault(k, expiringItem[K, V]{key: key, e: e})
	return Handle[V]{e: e}
}

// Invalidate implements Store.
func (s *Expiring[K, V]) Invalidate(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Delete(s.keyFn(key))
}

// InvalidateIf implements Store.
func (s *Expiring[K, V]) InvalidateIf(pred func(key K, value V) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, item := range s.c.Items() {
		it, ok := item.Object.(expiringItem[K, V])
		if ok && pred(it.key, it.e.value) {
			s.c.Delete(k)
		}
	}
}

// Items implements Store. Expired entries are omitted.
func (s *Expiring[K, V]) Items() []Item[K, V] {
	raw := s.c.Items()
	items := make([]Item[K, V], 0, len(raw))
	for _, item := range raw {
		if it, ok := item.Object.(expiringItem[K, V]); ok {
			items = append(items, Item[K, V]{Key: it.key, Value: it.e.value})
		}
	}
	return items
}

// Len implements Store. Expired entries not yet cleaned up are not counted.
func (s *Expiring[K, V]) Len() int {
	return len(s.c.Items())
}

// DeleteExpired removes expired entries now instead of waiting for the janitor.
func (s *Expiring[K, V]) DeleteExpired() {
	s.c.DeleteExpired()
}
