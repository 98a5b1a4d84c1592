package readthrough

import (
	"errors"
	"sync"
	"time"

	"github.com/cyberinferno/go-readthrough/asynctask"
	"github.com/cyberinferno/go-readthrough/logger"
)

var (
	// ErrClosed is returned by acquisitions on a closed cache.
	ErrClosed = errors.New("readthrough: cache is closed")
	// ErrInvalidSize is returned for a negative cache size.
	ErrInvalidSize = errors.New("readthrough: size must be zero or positive")
	// ErrNilLookup is returned when no lookup function is supplied.
	ErrNilLookup = errors.New("readthrough: lookup function must not be nil")
	// ErrNilStore is returned by NewWithStore when no store is supplied.
	ErrNilStore = errors.New("readthrough: store must not be nil")
	// ErrNilExecutor is returned when no executor is supplied.
	ErrNilExecutor = errors.New("readthrough: executor must not be nil")
	// ErrLookupPanicked wraps a panic raised by the lookup function.
	ErrLookupPanicked = errors.New("readthrough: lookup function panicked")
)

const defaultSize = 1000

type options struct {
	name   string
	size   int
	logger logger.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithName sets the name attached to the cache's log entries.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithSize sets the maximum number of values the default LRU store retains.
// Zero is allowed: lookups are still deduplicated but nothing is retained.
// Ignored by NewWithStore.
func WithSize(size int) Option {
	return func(o *options) {
		o.size = size
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		name:   "readthrough",
		size:   defaultSize,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// cacheBase holds the parts of a Cache that do not depend on its key and
// value types.
//
// Lock order: mu may be held while calling CancelToken.TryCancel (which takes
// the token's own mutex), never the other way round. Neither lock is held
// while running the lookup function or resolving a future.
type cacheBase struct {
	mu       sync.Mutex
	executor *asynctask.Executor
	logger   logger.Logger
	closed   bool
	loops    sync.WaitGroup
}

func (b *cacheBase) setup(executor *asynctask.Executor, o options) {
	b.executor = executor
	b.logger = o.logger.With(logger.Any("cache", o.name))
}

func (b *cacheBase) now() time.Time {
	return b.executor.Now()
}

// asyncWork schedules work on the executor; see asynctask.Executor.Schedule.
func (b *cacheBase) asyncWork(work asynctask.Work) *asynctask.CancelToken {
	return b.executor.Schedule(work)
}
