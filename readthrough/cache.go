// Package readthrough implements a generic read-through cache.
//
// On a miss the cache calls a caller-supplied LookupFunc on an
// asynctask.Executor and stores the result. Concurrent misses for the same
// key share a single lookup. Invalidation acts as a barrier: once
// Invalidate(key) returns, no caller receives a value whose lookup started
// before the call. A lookup that is invalidated while in flight is discarded
// and run again before anything is published. A round that is canceled
// before it starts is not retried: its waiters receive
// asynctask.ErrCanceled and may acquire again.
package readthrough

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/go-readthrough/asynctask"
	"github.com/cyberinferno/go-readthrough/evictioncache"
	"github.com/cyberinferno/go-readthrough/future"
	"github.com/cyberinferno/go-readthrough/logger"
)

// Cache is a read-through cache from K to V. It is safe for concurrent use.
//
// A key is either in the store or in the inProgress map, never both: it is
// moved from one to the other under mu.
type Cache[K comparable, V any] struct {
	cacheBase

	lookupFn LookupFunc[K, V]
	store    evictioncache.Store[K, StoredValue[V]]

	// Guarded by mu.
	inProgress map[K]*inProgressLookup[K, V]
	// draining holds the round of a lookup that InsertOrAssignAndGet
	// superseded while it was still running. A new lookup for the same key
	// waits for it before starting its first round. Guarded by mu.
	draining map[K]*future.Future[LookupResult[V]]
}

// New creates a Cache backed by an LRU store of WithSize entries.
//
// The executor runs lookups and provides the clock. It may be shared with
// other caches; it must be shut down before Close is called on this cache if
// pending lookups are to be abandoned rather than waited for.
//
// Parameters:
//   - executor: Runs lookup rounds
//   - lookupFn: Fetches values from the backing store
//   - opts: Functional options
//
// Returns:
//   - The new Cache
//   - An error if the arguments are invalid
func New[K comparable, V any](executor *asynctask.Executor, lookupFn LookupFunc[K, V], opts ...Option) (*Cache[K, V], error) {
	o := buildOptions(opts)
	if o.size < 0 {
		return nil, ErrInvalidSize
	}

	store, err := evictioncache.NewLRU[K, StoredValue[V]](o.size)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return newCache(executor, store, lookupFn, o)
}

// NewWithStore creates a Cache on top of the given store. WithSize is ignored.
func NewWithStore[K comparable, V any](
	executor *asynctask.Executor,
	store evictioncache.Store[K, StoredValue[V]],
	lookupFn LookupFunc[K, V],
	opts ...Option,
) (*Cache[K, V], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return newCache(executor, store, lookupFn, buildOptions(opts))
}

func newCache[K comparable, V any](
	executor *asynctask.Executor,
	store evictioncache.Store[K, StoredValue[V]],
	lookupFn LookupFunc[K, V],
	o options,
) (*Cache[K, V], error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	if lookupFn == nil {
		return nil, ErrNilLookup
	}

	c := &Cache[K, V]{
		lookupFn:   lookupFn,
		store:      store,
		inProgress: make(map[K]*inProgressLookup[K, V]),
		draining:   make(map[K]*future.Future[LookupResult[V]]),
	}
	c.setup(executor, o)
	return c, nil
}

// AcquireAsync returns a future for the value of key. It never blocks.
//
// If key is cached, the returned future is already resolved. Otherwise it
// joins the lookup in flight for key or starts one. A found value is cached
// and returned; a key the backing store does not have yields an empty handle
// (IsSet() == false) and is not cached; a lookup error is returned to every
// waiter and is not cached either.
//
// The handle may already be invalid when the caller reads it if key was
// invalidated in the meantime.
//
// Parameters:
//   - key: The key to look up
//
// Returns:
//   - A future resolving to the value handle, or to the lookup error,
//     a cancellation error from the executor, or ErrClosed
func (c *Cache[K, V]) AcquireAsync(key K) *future.Future[ValueHandle[V]] {
	if h, ok := c.store.Get(key); ok {
		return future.Ready(ValueHandle[V]{h: h}, nil)
	}

	c.mu.Lock()

	// A lookup may have finished between the check above and taking the lock.
	if h, ok := c.store.Get(key); ok {
		c.mu.Unlock()
		return future.Ready(ValueHandle[V]{h: h}, nil)
	}

	if l, ok := c.inProgress[key]; ok {
		f := l.addWaiter()
		c.mu.Unlock()
		return f
	}

	if c.closed {
		c.mu.Unlock()
		return future.Ready(ValueHandle[V]{}, ErrClosed)
	}

	l := newInProgressLookup(c, key)
	c.inProgress[key] = l
	f := l.addWaiter()

	// At most one fetch per key runs at a time, including a superseded one.
	drain := c.draining[key]
	var round *future.Future[LookupResult[V]]
	if drain == nil {
		round = l.asyncLookupRound()
	}
	c.loops.Add(1)
	c.mu.Unlock()

	if drain != nil {
		c.logger.Debug("lookup waiting for superseded round", logger.Any("key", key))
	} else {
		c.logger.Debug("lookup scheduled", logger.Any("key", key))
	}
	go c.doLookupWhileNotValid(l, drain, round)

	return f
}

// Acquire is the blocking form of AcquireAsync. It returns when the value is
// available or ctx is done; giving up on ctx does not cancel the lookup.
func (c *Cache[K, V]) Acquire(ctx context.Context, key K) (ValueHandle[V], error) {
	return c.AcquireAsync(key).Get(ctx)
}

// InsertOrAssignAndGet stores value for key without calling the lookup
// function and returns a handle to it.
//
// A lookup in flight for key is canceled and its result discarded; its
// waiters receive the inserted value instead. A later lookup for key does
// not start fetching until the canceled round has returned.
//
// Parameters:
//   - key: The key to store
//   - value: The value to store
//   - updateTime: The wall-clock time reported by the handle's UpdateWallClockTime
//
// Returns:
//   - A valid handle to the stored value
func (c *Cache[K, V]) InsertOrAssignAndGet(key K, value V, updateTime time.Time) ValueHandle[V] {
	c.mu.Lock()

	l, inFlight := c.inProgress[key]
	if inFlight {
		l.invalidateAndCancelCurrentRound()
		delete(c.inProgress, key)
		// A lookup still waiting on an older drain has no round of its own;
		// the older entry then stays in place.
		if l.round != nil {
			c.draining[key] = l.round
		}
	}
	h := ValueHandle[V]{h: c.store.InsertOrAssignAndGet(key, StoredValue[V]{Value: value, UpdateTime: updateTime})}

	c.mu.Unlock()

	if inFlight {
		c.logger.Debug("in-flight lookup superseded by insert", logger.Any("key", key))
		l.signalWaiters(h, nil)
	}
	return h
}

// Invalidate removes key from the cache and invalidates any lookup in flight
// for it, so that every later or concurrent acquisition observes a value
// fetched after this call.
//
// Parameters:
//   - key: The key to invalidate; unknown keys are ignored
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.inProgress[key]; ok {
		l.invalidateAndCancelCurrentRound()
	}
	c.store.Invalidate(key)
}

// InvalidateIf is Invalidate applied to every cached or in-flight key for
// which pred returns true.
//
// Parameters:
//   - pred: Selects the keys to invalidate. It runs under the cache lock and
//     must not call back into the cache
func (c *Cache[K, V]) InvalidateIf(pred func(key K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, l := range c.inProgress {
		if pred(key) {
			l.invalidateAndCancelCurrentRound()
		}
	}
	c.store.InvalidateIf(func(key K, _ StoredValue[V]) bool {
		return pred(key)
	})
}

// InvalidateAll invalidates every key.
func (c *Cache[K, V]) InvalidateAll() {
	c.InvalidateIf(func(K) bool { return true })
}

// CacheInfo returns a point-in-time snapshot of the cached entries.
func (c *Cache[K, V]) CacheInfo() []CachedItemInfo[K] {
	items := c.store.Items()
	info := make([]CachedItemInfo[K], 0, len(items))
	for _, it := range items {
		info = append(info, CachedItemInfo[K]{Key: it.Key, UpdateTime: it.Value.UpdateTime})
	}
	return info
}

// Close stops new lookups from starting and waits for the ones in flight to
// publish their results. Acquisitions that miss after Close fail with
// ErrClosed; cached values are still served.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.loops.Wait()
}

// doLookupWhileNotValid drives the rounds of l until one completes without
// having been invalidated, or is canceled before it starts, then publishes
// its outcome. Either drain is set and the first round is scheduled once it
// resolves, or round is the first round, already scheduled by the caller.
func (c *Cache[K, V]) doLookupWhileNotValid(l *inProgressLookup[K, V], drain, round *future.Future[LookupResult[V]]) {
	defer c.loops.Done()

	if drain != nil {
		_, _ = drain.Wait()

		c.mu.Lock()
		if c.draining[l.key] == drain {
			delete(c.draining, l.key)
		}
		if c.inProgress[l.key] != l {
			// Superseded by InsertOrAssignAndGet before it fetched anything.
			c.mu.Unlock()
			return
		}
		round = l.asyncLookupRound()
		c.mu.Unlock()
	}

	for {
		res, err := round.Wait()

		c.mu.Lock()
		if c.inProgress[l.key] != l {
			// Completed by InsertOrAssignAndGet.
			if c.draining[l.key] == round {
				delete(c.draining, l.key)
			}
			c.mu.Unlock()
			return
		}
		if l.valid || asynctask.IsCancellation(err) {
			c.finishLocked(l, res, err)
			return
		}

		round = l.asyncLookupRound()
		rounds := l.rounds
		c.mu.Unlock()

		c.logger.Debug("lookup invalidated while in flight, retrying",
			logger.Any("key", l.key), logger.Any("round", rounds))
	}
}

// finishLocked removes l from the map, caches a found value and signals the
// waiters. It is called with mu held and releases it before signalling.
func (c *Cache[K, V]) finishLocked(l *inProgressLookup[K, V], res LookupResult[V], err error) {
	delete(c.inProgress, l.key)

	var h ValueHandle[V]
	if err == nil && res.Found {
		h = ValueHandle[V]{h: c.store.InsertOrAssignAndGet(l.key, StoredValue[V]{Value: res.Value, UpdateTime: c.now()})}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("lookup failed", logger.Any("key", l.key), logger.Err(err),
			logger.Any("canceled", asynctask.IsCancellation(err)))
	} else {
		c.logger.Debug("lookup finished", logger.Any("key", l.key), logger.Any("found", res.Found))
	}

	l.signalWaiters(h, err)
}

func (c *Cache[K, V]) runLookup(ctx context.Context, key K) (res LookupResult[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLookupPanicked, r)
			c.logger.Error("lookup function panicked", logger.Any("key", key), logger.Any("panic", r))
		}
	}()

	return c.lookupFn(ctx, key)
}
