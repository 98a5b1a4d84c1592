package readthrough

import (
	"context"
	"time"

	"github.com/cyberinferno/go-readthrough/evictioncache"
)

// StoredValue is what the cache keeps in its store for each key.
type StoredValue[V any] struct {
	Value V

	// UpdateTime is the wall-clock time at which Value was fetched from the
	// backing store. It is best effort and for diagnostics only; do not use
	// it for recency comparisons.
	UpdateTime time.Time
}

// ValueHandle is returned to callers of the cache. The zero ValueHandle is
// the empty handle, returned when the backing store has no value for a key.
type ValueHandle[V any] struct {
	h evictioncache.Handle[StoredValue[V]]
}

// Pinned returns an always-valid handle for v that bypasses the cache. It is
// meant for privileged callers that need a fixed sentinel value and must not
// be used as a general way of constructing handles.
func Pinned[V any](v V) ValueHandle[V] {
	return ValueHandle[V]{h: evictioncache.Pinned(StoredValue[V]{Value: v})}
}

// IsSet reports whether the handle holds a value. It is false when the
// lookup reported the key as not found.
func (h ValueHandle[V]) IsSet() bool {
	return h.h.IsSet()
}

// IsValid reports whether the value has not been invalidated since it was
// handed out. An invalid handle's value remains readable.
func (h ValueHandle[V]) IsValid() bool {
	return h.h.IsValid()
}

// Value returns the cached value, or the zero value for an empty handle.
func (h ValueHandle[V]) Value() V {
	return h.h.Value().Value
}

// UpdateWallClockTime returns when the value was fetched. See StoredValue.UpdateTime.
func (h ValueHandle[V]) UpdateWallClockTime() time.Time {
	return h.h.Value().UpdateTime
}

// LookupResult is the outcome of one call to a LookupFunc.
type LookupResult[V any] struct {
	Value V
	Found bool
}

// Found returns a LookupResult holding v.
func Found[V any](v V) LookupResult[V] {
	return LookupResult[V]{Value: v, Found: true}
}

// NotFound returns a LookupResult reporting that the key does not exist.
func NotFound[V any]() LookupResult[V] {
	return LookupResult[V]{}
}

// LookupFunc fetches the value for key from the backing store. It may block.
//
// It must return NotFound when the key legitimately does not exist and
// reserve errors for genuine fetch failures. ctx is canceled when the round
// it belongs to is invalidated or the executor shuts down.
type LookupFunc[K comparable, V any] func(ctx context.Context, key K) (LookupResult[V], error)

// CachedItemInfo describes one cached entry for diagnostics.
type CachedItemInfo[K comparable] struct {
	Key        K
	UpdateTime time.Time
}
