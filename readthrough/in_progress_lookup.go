package readthrough

import (
	"context"

	"github.com/cyberinferno/go-readthrough/asynctask"
	"github.com/cyberinferno/go-readthrough/future"
)

// inProgressLookup tracks one key that missed the store and is being fetched
// from the backing store. A single logical lookup may take several rounds:
// when a round is invalidated while in flight, its result is dropped and a
// new round is scheduled, and the waiters collected so far carry over.
//
// The cache owns each inProgressLookup through its inProgress map and there
// is at most one per key. Unless stated otherwise, methods require the
// caller to hold cache.mu.
type inProgressLookup[K comparable, V any] struct {
	cache *Cache[K, V]
	key   K

	valid       bool
	cancelToken *asynctask.CancelToken
	round       *future.Future[LookupResult[V]]
	rounds      int

	promise *future.Promise[ValueHandle[V]]
}

func newInProgressLookup[K comparable, V any](c *Cache[K, V], key K) *inProgressLookup[K, V] {
	p, _ := future.New[ValueHandle[V]]()
	return &inProgressLookup[K, V]{
		cache:   c,
		key:     key,
		promise: p,
	}
}

// asyncLookupRound schedules one invocation of the lookup function and marks
// the lookup valid. Scheduling never runs the work inline, so holding
// cache.mu here is safe.
func (l *inProgressLookup[K, V]) asyncLookupRound() *future.Future[LookupResult[V]] {
	p, f := future.New[LookupResult[V]]()

	l.valid = true
	l.rounds++
	l.cancelToken = l.cache.asyncWork(func(ctx context.Context, status error) {
		if status != nil {
			p.Resolve(LookupResult[V]{}, status)
			return
		}
		p.Resolve(l.cache.runLookup(ctx, l.key))
	})
	l.round = f

	return f
}

// addWaiter returns a future that resolves with the lookup's final outcome.
func (l *inProgressLookup[K, V]) addWaiter() *future.Future[ValueHandle[V]] {
	return l.promise.Future()
}

// invalidateAndCancelCurrentRound marks the current round's result unusable
// and asks its task to stop. Waiters are kept.
func (l *inProgressLookup[K, V]) invalidateAndCancelCurrentRound() {
	l.valid = false
	if l.cancelToken != nil {
		l.cancelToken.TryCancel()
	}
}

// signalWaiters publishes the final outcome to every waiter. It must be
// called exactly once, after the lookup has been removed from the cache's
// map and without cache.mu held, since waiters may call back into the cache.
func (l *inProgressLookup[K, V]) signalWaiters(h ValueHandle[V], err error) {
	l.promise.Resolve(h, err)
}
