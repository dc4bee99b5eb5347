package future

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Executor is the event queue of the owning goroutine. Work posted from any
// goroutine runs on whichever goroutine drains the queue, which must always
// be the same one: the goroutine that owns the pipeline objects.
type Executor struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	logger *zap.Logger

	executed atomic.Int64
	panics   atomic.Int64
}

// NewExecutor creates an executor. A nil logger disables logging.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Post schedules fn to run on the owning goroutine. It never blocks.
func (e *Executor) Post(fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued callbacks.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ProcessEvents runs queued callbacks until the queue is empty, including
// callbacks posted while processing. It returns the number of callbacks run.
// Must be called on the owning goroutine.
func (e *Executor) ProcessEvents() int {
	count := 0
	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()

		if len(batch) == 0 {
			return count
		}
		for _, fn := range batch {
			e.invoke(fn)
			count++
		}
	}
}

func (e *Executor) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.logger.Error("panic in owning-thread callback", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
	e.executed.Add(1)
}

// Run processes callbacks until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Debug("executor loop started")
	for {
		e.ProcessEvents()
		select {
		case <-ctx.Done():
			e.logger.Debug("executor loop stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-e.notify:
		}
	}
}

// Stats returns the number of executed callbacks and recovered panics.
func (e *Executor) Stats() (executed, panics int64) {
	return e.executed.Load(), e.panics.Load()
}

func (e *Executor) wakeup() <-chan struct{} {
	if e == nil {
		return nil
	}
	return e.notify
}
