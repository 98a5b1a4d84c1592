// Package evictioncache provides self-synchronising key-value stores whose
// handed-out handles observe invalidation.
//
// Invalidating a key removes it from the store and marks every Handle that
// was returned for it as invalid. The handle's value stays readable; validity
// is only advisory staleness information.
package evictioncache

import (
	"errors"
	"sync/atomic"
)

// ErrInvalidCapacity is returned for a negative store capacity.
var ErrInvalidCapacity = errors.New("evictioncache: capacity must be zero or positive")

type entry[V any] struct {
	value   V
	invalid atomic.Bool
}

func newEntry[V any](v V) *entry[V] {
	return &entry[V]{value: v}
}

func (e *entry[V]) invalidate() {
	e.invalid.Store(true)
}

// Handle references a value returned by a Store. The zero Handle is empty:
// it holds no value and is always valid.
type Handle[V any] struct {
	e *entry[V]
}

// Pinned returns a handle that is not tracked by any store and therefore
// can never be invalidated.
func Pinned[V any](v V) Handle[V] {
	return Handle[V]{e: newEntry(v)}
}

// IsSet reports whether the handle holds a value.
func (h Handle[V]) IsSet() bool {
	return h.e != nil
}

// IsValid reports whether the referenced entry has not been invalidated
// since the handle was obtained. Empty handles are always valid.
func (h Handle[V]) IsValid() bool {
	return h.e == nil || !h.e.invalid.Load()
}

// Value returns the referenced value, or the zero value for an empty handle.
func (h Handle[V]) Value() V {
	if h.e == nil {
		var zero V
		return zero
	}
	return h.e.value
}

// Item is a point-in-time view of one stored entry.
type Item[K comparable, V any] struct {
	Key   K
	Value V
}

// Store is the contract a read-through cache needs from its backing store.
// All methods are safe for concurrent use, and Get and InsertOrAssignAndGet
// for the same key are linearizable.
type Store[K comparable, V any] interface {
	// Get returns a handle for key if it is stored.
	Get(key K) (Handle[V], bool)

	// InsertOrAssignAndGet stores value under key, invalidating any handle
	// previously returned for key, and returns a handle for the new value.
	InsertOrAssignAndGet(key K, value V) Handle[V]

	// Invalidate removes key and invalidates its handles.
	Invalidate(key K)

	// InvalidateIf invalidates every entry for which pred returns true.
	// pred is called with the store locked and must not call back into it.
	InvalidateIf(pred func(key K, value V) bool)

	// Items returns a snapshot of the stored entries.
	Items() []Item[K, V]

	// Len returns the number of stored entries.
	Len() int
}
