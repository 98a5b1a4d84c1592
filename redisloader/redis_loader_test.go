package redisloader

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-readthrough/asynctask"
	"github.com/cyberinferno/go-readthrough/readthrough"
)

type user struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func newServer(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

// unreachableClient points at a port nothing listens on, so every command fails fast.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLoader_RedisKey(t *testing.T) {
	t.Run("default key function", func(t *testing.T) {
		l := New[int, user](unreachableClient(t), "users:", nil)
		assert.Equal(t, "users:42", l.RedisKey(42))
	})

	t.Run("custom key function", func(t *testing.T) {
		l := New[int, user](unreachableClient(t), "u/", func(id int) string {
			return "id-" + strconv.Itoa(id)
		})
		assert.Equal(t, "u/id-7", l.RedisKey(7))
	})
}

func TestLoader_Lookup(t *testing.T) {
	s, client := newServer(t)
	l := New[string, user](client, "users:", nil)
	ctx := context.Background()

	t.Run("found value is decoded", func(t *testing.T) {
		require.NoError(t, s.Set("users:alice", `{"name":"Alice","roles":["admin","dev"]}`))

		res, err := l.Lookup(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, user{Name: "Alice", Roles: []string{"admin", "dev"}}, res.Value)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		res, err := l.Lookup(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Equal(t, user{}, res.Value)
	})

	t.Run("undecodable value is an error", func(t *testing.T) {
		require.NoError(t, s.Set("users:broken", "not json"))

		_, err := l.Lookup(ctx, "broken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal value for users:broken")
		var syntaxErr *json.SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})
}

func TestLoader_StoreAndDelete(t *testing.T) {
	s, client := newServer(t)
	l := New[int, user](client, "users:", nil)
	ctx := context.Background()

	want := user{Name: "Bob", Roles: []string{"ops"}}
	require.NoError(t, l.Store(ctx, 7, want, time.Minute))

	assert.True(t, s.Exists("users:7"))
	assert.Equal(t, time.Minute, s.TTL("users:7"))

	res, err := l.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, want, res.Value)

	t.Run("zero ttl keeps the key", func(t *testing.T) {
		require.NoError(t, l.Store(ctx, 8, want, 0))
		assert.Equal(t, time.Duration(0), s.TTL("users:8"))
	})

	t.Run("expired key is not found", func(t *testing.T) {
		s.FastForward(2 * time.Minute)
		res, err := l.Lookup(ctx, 7)
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, l.Delete(ctx, 8))
		assert.False(t, s.Exists("users:8"))
		assert.NoError(t, l.Delete(ctx, 8), "deleting a missing key is not an error")
	})
}

func TestLoader_Errors(t *testing.T) {
	l := New[string, user](unreachableClient(t), "users:", nil)
	ctx := context.Background()

	_, err := l.Lookup(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get users:alice")

	err = l.Store(ctx, "alice", user{Name: "alice"}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis set users:alice")

	err = l.Delete(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis del users:alice")
}

func TestLoader_Store_MarshalError(t *testing.T) {
	l := New[string, chan int](unreachableClient(t), "", nil)

	err := l.Store(context.Background(), "k", make(chan int), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal value")
}

func newUserCache(t *testing.T, l *Loader[string, user]) *readthrough.Cache[string, user] {
	t.Helper()
	e, err := asynctask.NewExecutor(asynctask.WithWorkers(2))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	c, err := readthrough.New(e, l.LookupFunc(), readthrough.WithName("users"))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLoader_WithCache(t *testing.T) {
	t.Run("not found is not cached", func(t *testing.T) {
		_, client := newServer(t)
		l := New[string, user](client, "users:", nil)
		c := newUserCache(t, l)
		ctx := context.Background()

		h, err := c.Acquire(ctx, "carol")
		require.NoError(t, err)
		assert.False(t, h.IsSet())
		assert.Empty(t, c.CacheInfo())

		require.NoError(t, l.Store(ctx, "carol", user{Name: "Carol"}, 0))

		h, err = c.Acquire(ctx, "carol")
		require.NoError(t, err)
		require.True(t, h.IsSet())
		assert.Equal(t, "Carol", h.Value().Name)
	})

	t.Run("found value is served from cache until invalidated", func(t *testing.T) {
		_, client := newServer(t)
		l := New[string, user](client, "users:", nil)
		c := newUserCache(t, l)
		ctx := context.Background()

		require.NoError(t, l.Store(ctx, "dave", user{Name: "Dave"}, 0))
		first, err := c.Acquire(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "Dave", first.Value().Name)

		require.NoError(t, l.Store(ctx, "dave", user{Name: "David"}, 0))
		cached, err := c.Acquire(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "Dave", cached.Value().Name)

		c.Invalidate("dave")
		assert.False(t, first.IsValid())

		fresh, err := c.Acquire(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, "David", fresh.Value().Name)
	})

	t.Run("backing store failures reach the caller", func(t *testing.T) {
		l := New[string, user](unreachableClient(t), "users:", nil)
		c := newUserCache(t, l)

		_, err := c.Acquire(context.Background(), "alice")
		require.Error(t, err)
		assert.Empty(t, c.CacheInfo())
	})
}
