// Package asynctask runs units of work with bounded concurrency and hands
// back a CancelToken for cooperative cancellation.
//
// The bound applies to work that is executing, not to goroutines: every
// scheduled task gets its own goroutine, which waits for a free slot before
// running.
//
// Every scheduled Work is invoked exactly once. If cancellation reaches the
// task before a worker picks it up, the work is still invoked, out of line,
// with a cancellation status instead of nil.
package asynctask

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/go-readthrough/logger"
)

const tracerName = "github.com/cyberinferno/go-readthrough/asynctask"

var (
	// ErrCanceled is the status passed to Work when TryCancel won the race
	// against execution.
	ErrCanceled = errors.New("asynctask: task canceled before it started")
	// ErrShutdown is the status passed to Work when the executor was shut
	// down before the work started.
	ErrShutdown = errors.New("asynctask: executor is shut down")
	// ErrInvalidWorkers is returned by NewExecutor for a non-positive worker count.
	ErrInvalidWorkers = errors.New("asynctask: workers must be positive")
)

// IsCancellation reports whether err is one of the cancellation statuses
// produced by this package.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, ErrShutdown)
}

// Work is a unit of work. status is nil when the work runs normally, or a
// cancellation error (see IsCancellation) when it was canceled first.
type Work func(ctx context.Context, status error)

// Clock is the time source exposed by the executor.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	return f()
}

type taskIDKey struct{}

// TaskIDFromContext returns the ID of the task whose Work received ctx.
func TaskIDFromContext(ctx context.Context) (uint32, bool) {
	id, ok := ctx.Value(taskIDKey{}).(uint32)
	return id, ok
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the maximum number of tasks executing at once.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		e.workers = n
	}
}

// WithClock overrides the time source returned by Now.
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithLogger sets the logger used for cancellation diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithTracer overrides the tracer used to open a span around each task.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// Executor runs scheduled Work with at most a fixed number of tasks
// executing at once. Tasks waiting for a slot each hold a parked goroutine.
type Executor struct {
	workers int
	sem     *semaphore.Weighted
	clock   Clock
	logger  logger.Logger
	tracer  trace.Tracer
	ids     atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// NewExecutor creates an Executor. The default is 16 workers, the wall
// clock, a no-op logger and the global OpenTelemetry tracer.
//
// Parameters:
//   - opts: Functional options
//
// Returns:
//   - The new Executor
//   - ErrInvalidWorkers if the worker count is not positive
func NewExecutor(opts ...Option) (*Executor, error) {
	e := &Executor{
		workers: 16,
		clock:   ClockFunc(time.Now),
		logger:  logger.NewNopLogger(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.workers <= 0 {
		return nil, ErrInvalidWorkers
	}

	e.sem = semaphore.NewWeighted(int64(e.workers))
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Now returns the current time according to the executor's clock.
func (e *Executor) Now() time.Time {
	return e.clock.Now()
}

// Schedule queues work and returns a token that can cancel it.
//
// Schedule never invokes work on the calling goroutine, so it is safe to
// call while holding locks that work itself might need.
//
// Parameters:
//   - work: The unit of work to run
//
// Returns:
//   - A CancelToken for the scheduled work
func (e *Executor) Schedule(work Work) *CancelToken {
	ctx, cancel := context.WithCancel(e.ctx)
	tok := &CancelToken{
		id:     e.ids.Add(1),
		cancel: cancel,
		logger: e.logger,
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		tok.outcome = OutcomeCanceled
		cancel()
		go work(context.WithValue(ctx, taskIDKey{}, tok.id), ErrShutdown)
		return tok
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(ctx, tok, work)
	return tok
}

func (e *Executor) run(ctx context.Context, tok *CancelToken, work Work) {
	defer e.wg.Done()
	defer tok.cancel()

	ctx = context.WithValue(ctx, taskIDKey{}, tok.id)

	acquireErr := e.sem.Acquire(ctx, 1)

	tok.mu.Lock()
	if acquireErr != nil || ctx.Err() != nil || tok.cancelRequested {
		status := ErrCanceled
		if !tok.cancelRequested {
			status = ErrShutdown
		}
		tok.outcome = OutcomeCanceled
		tok.mu.Unlock()

		if acquireErr == nil {
			e.sem.Release(1)
		}

		e.logger.Debug("task canceled before start",
			logger.Any("task", tok.id), logger.Err(status))
		work(ctx, status)
		return
	}
	tok.outcome = OutcomeRunning
	tok.mu.Unlock()

	defer e.sem.Release(1)

	// The span covers execution only; queueing time is not traced.
	ctx, span := e.tracer.Start(ctx, "asynctask.run",
		trace.WithAttributes(attribute.Int64("asynctask.id", int64(tok.id))))
	defer span.End()

	work(ctx, nil)
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled while running")
	}

	tok.mu.Lock()
	tok.outcome = OutcomeCompleted
	tok.mu.Unlock()
}

// Shutdown stops accepting work and waits for all scheduled tasks to return.
// Tasks that have not started are invoked with ErrShutdown. Tasks that are
// already running have the context passed to their Work canceled. Work
// scheduled after Shutdown is invoked with ErrShutdown. Shutdown is
// idempotent.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Outcome describes how far a scheduled task has progressed.
type Outcome int

const (
	OutcomePending   Outcome = iota // Not yet picked up by a worker
	OutcomeRunning                  // Work is executing with a nil status
	OutcomeCompleted                // Work returned after running normally
	OutcomeCanceled                 // Work was invoked with a cancellation status
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeRunning:
		return "Running"
	case OutcomeCompleted:
		return "Completed"
	case OutcomeCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// CancelToken refers to one scheduled task.
//
// Its mutex only guards the token's own bookkeeping. Callers may hold their
// own locks while calling TryCancel, but must never take those locks from
// inside Work while the token is locked.
type CancelToken struct {
	id     uint32
	cancel context.CancelFunc
	logger logger.Logger

	mu              sync.Mutex
	outcome         Outcome
	cancelRequested bool
}

// ID returns the task ID, which is also available to Work via TaskIDFromContext.
func (t *CancelToken) ID() uint32 {
	return t.id
}

// TryCancel requests cancellation. If the task has not started, its Work
// will be invoked with ErrCanceled instead of running normally. If it is
// running, the context passed to Work is canceled. Calls after the task
// finished, and repeated calls, have no effect.
func (t *CancelToken) TryCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outcome == OutcomeCompleted || t.outcome == OutcomeCanceled || t.cancelRequested {
		return
	}

	t.cancelRequested = true
	t.cancel()
}

// Outcome returns the current progress of the task.
func (t *CancelToken) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}
