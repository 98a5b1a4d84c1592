package future

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_Resolve(t *testing.T) {
	t.Run("all subscribers see the same value", func(t *testing.T) {
		p, f := New[int]()
		assert.Same(t, f, p.Future())
		assert.False(t, f.IsReady())

		const subscribers = 8
		var wg sync.WaitGroup
		results := make([]int, subscribers)
		for i := range subscribers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := p.Future().Wait()
				assert.NoError(t, err)
				results[i] = v
			}()
		}

		p.Resolve(42, nil)
		wg.Wait()

		for _, v := range results {
			assert.Equal(t, 42, v)
		}
		assert.True(t, f.IsReady())
	})

	t.Run("error is published", func(t *testing.T) {
		p, f := New[string]()
		p.Resolve("", assert.AnError)

		v, err := f.Get(context.Background())
		assert.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, v)
	})

	t.Run("second resolve panics", func(t *testing.T) {
		p, _ := New[int]()
		p.Resolve(1, nil)
		assert.Panics(t, func() { p.Resolve(2, nil) })
	})
}

func TestFuture_Result(t *testing.T) {
	p, f := New[int]()

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrNotReady)

	p.Resolve(7, nil)
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFuture_Get(t *testing.T) {
	t.Run("context ends first", func(t *testing.T) {
		_, f := New[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := f.Get(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, f.IsReady())
	})

	t.Run("resolved future ignores cancelled context", func(t *testing.T) {
		f := Ready(3, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		v, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})
}

func TestReady(t *testing.T) {
	f := Ready("x", assert.AnError)
	assert.True(t, f.IsReady())
	<-f.Done()

	v, err := f.Wait()
	assert.Equal(t, "x", v)
	assert.ErrorIs(t, err, assert.AnError)
}
