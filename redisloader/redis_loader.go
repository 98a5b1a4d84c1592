// Package redisloader provides a read-through lookup function backed by Redis.
//
// Values are stored in Redis as JSON. A missing Redis key is reported to the
// cache as not found; any other Redis failure is a lookup error.
package redisloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-readthrough/readthrough"
)

// Loader reads and writes JSON-encoded values of type V in Redis under keys
// derived from K.
type Loader[K comparable, V any] struct {
	client redis.UniversalClient
	keyFn  func(K) string
}

// New creates a Loader.
//
// Parameters:
//   - client: The Redis client to use
//   - prefix: Prepended to every Redis key, e.g. "users:"
//   - keyFn: Converts a cache key to the Redis key suffix; if nil, fmt.Sprint is used
//
// Returns:
//   - A new Loader
func New[K comparable, V any](client redis.UniversalClient, prefix string, keyFn func(K) string) *Loader[K, V] {
	if keyFn == nil {
		keyFn = func(k K) string { return fmt.Sprint(k) }
	}
	return &Loader[K, V]{
		client: client,
		keyFn:  func(k K) string { return prefix + keyFn(k) },
	}
}

// RedisKey returns the Redis key used for key.
func (l *Loader[K, V]) RedisKey(key K) string {
	return l.keyFn(key)
}

// Lookup implements readthrough.LookupFunc.
//
// Parameters:
//   - ctx: Context for cancellation; canceled when the lookup round is invalidated
//   - key: The cache key to fetch
//
// Returns:
//   - Found with the decoded value, or NotFound if Redis has no such key
//   - An error if Redis fails or the stored value cannot be decoded
func (l *Loader[K, V]) Lookup(ctx context.Context, key K) (readthrough.LookupResult[V], error) {
	rk := l.keyFn(key)

	val, err := l.client.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return readthrough.NotFound[V](), nil
	}
	if err != nil {
		return readthrough.LookupResult[V]{}, fmt.Errorf("redis get %s: %w", rk, err)
	}

	var v V
	if err := json.Unmarshal(val, &v); err != nil {
		return readthrough.LookupResult[V]{}, fmt.Errorf("failed to unmarshal value for %s: %w", rk, err)
	}

	return readthrough.Found(v), nil
}

// LookupFunc returns Lookup as a readthrough.LookupFunc.
func (l *Loader[K, V]) LookupFunc() readthrough.LookupFunc[K, V] {
	return l.Lookup
}

// Store writes value to Redis. It does not touch any cache; owners that
// write through should follow it with Cache.InsertOrAssignAndGet or
// Cache.Invalidate.
//
// Parameters:
//   - ctx: Context for cancellation
//   - key: The cache key
//   - value: The value to encode and store
//   - ttl: Redis expiry; 0 keeps the key forever
//
// Returns:
//   - An error if encoding or the Redis write fails
func (l *Loader[K, V]) Store(ctx context.Context, key K, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	rk := l.keyFn(key)
	if err := l.client.Set(ctx, rk, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", rk, err)
	}
	return nil
}

// Delete removes key from Redis.
func (l *Loader[K, V]) Delete(ctx context.Context, key K) error {
	rk := l.keyFn(key)
	if err := l.client.Del(ctx, rk).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", rk, err)
	}
	return nil
}
