package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrShutdown is returned for tasks submitted after Shutdown.
var ErrShutdown = errors.New("task manager is shut down")

// TaskInfo describes a running task.
type TaskInfo struct {
	ID      string
	Name    string
	Started time.Time
}

// TaskStats is a snapshot of task counters.
type TaskStats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Canceled  int64
}

// TaskManager runs worker functions on a bounded set of goroutines and
// exposes their outcome as futures. Worker functions must only touch data
// they own; results re-enter the pipeline through future continuations on
// the owning goroutine.
type TaskManager struct {
	config  *Config
	limiter *Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	closed   atomic.Bool
	running  sync.Map
	onReport atomic.Pointer[func(ProgressUpdate)]

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
}

// NewTaskManager creates a task manager. m may be nil.
func NewTaskManager(config *Config, logger *zap.Logger, m *metrics.Metrics) (*TaskManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	logger.Debug("task manager created", zap.String("config", config.String()))
	return &TaskManager{
		config:  config,
		limiter: NewLimiter(config.MaxConcurrent, nil),
		logger:  logger,
		metrics: m,
	}, nil
}

// SetProgressHandler installs a callback receiving throttled progress updates.
// The callback runs on worker goroutines.
func (tm *TaskManager) SetProgressHandler(fn func(ProgressUpdate)) {
	if fn == nil {
		tm.onReport.Store(nil)
		return
	}
	tm.onReport.Store(&fn)
}

func (tm *TaskManager) reportProgress(u ProgressUpdate) {
	if fn := tm.onReport.Load(); fn != nil {
		(*fn)(u)
	}
}

// Run executes fn on a worker goroutine. The returned future completes with
// fn's result; canceling the future cancels the context passed to fn. Panics
// in fn turn into a failed future.
func Run[T any](tm *TaskManager, ctx context.Context, name string, fn func(ctx context.Context, p *Progress) (T, error)) future.Future[T] {
	if tm.closed.Load() {
		return future.Failed[T](ErrShutdown)
	}
	promise := future.NewPromise[T]()
	id := xid.New().String()
	tm.submitted.Add(1)
	tm.wg.Add(1)

	go func() {
		defer tm.wg.Done()

		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(promise.Context(), cancel)
		defer stop()

		if err := tm.limiter.Acquire(taskCtx); err != nil {
			tm.finish(promise, id, name, err, 0)
			return
		}
		defer tm.limiter.Release()

		tm.running.Store(id, TaskInfo{ID: id, Name: name, Started: time.Now()})
		defer tm.running.Delete(id)

		tracer := otel.Tracer("helios/concurrency")
		spanCtx, span := tracer.Start(taskCtx, "task."+name)
		span.SetAttributes(attribute.String("task.id", id))
		defer span.End()

		tm.metrics.TaskStarted()
		start := time.Now()
		progress := newProgress(spanCtx, id, name,
			rate.NewLimiter(rate.Every(tm.config.ProgressInterval), 1), tm.logger, tm.reportProgress)

		value, err := invoke(spanCtx, progress, fn)
		if err == nil && spanCtx.Err() != nil {
			err = perrors.ErrCanceled
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if err == nil {
			promise.Resolve(value)
		}
		tm.finish(promise, id, name, err, time.Since(start))
	}()

	return promise.Future()
}

func invoke[T any](ctx context.Context, p *Progress, fn func(context.Context, *Progress) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, p)
}

func (tm *TaskManager) finish(promise interface{ Reject(error) bool }, id, name string, err error, elapsed time.Duration) {
	outcome := "success"
	switch {
	case err == nil:
		tm.succeeded.Add(1)
	case perrors.IsCanceled(err) || errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
		tm.canceled.Add(1)
		promise.Reject(perrors.ErrCanceled)
	default:
		outcome = "error"
		tm.failed.Add(1)
		promise.Reject(err)
		tm.logger.Debug("task failed",
			zap.String("task_id", id),
			zap.String("task", name),
			zap.Error(err))
	}
	if elapsed > 0 {
		tm.metrics.TaskFinished(outcome, elapsed)
	}
}

// RunningTasks returns the tasks currently executing.
func (tm *TaskManager) RunningTasks() []TaskInfo {
	var out []TaskInfo
	tm.running.Range(func(_, v any) bool {
		out = append(out, v.(TaskInfo))
		return true
	})
	return out
}

// Stats returns the task counters.
func (tm *TaskManager) Stats() TaskStats {
	return TaskStats{
		Submitted: tm.submitted.Load(),
		Succeeded: tm.succeeded.Load(),
		Failed:    tm.failed.Load(),
		Canceled:  tm.canceled.Load(),
	}
}

// Limiter returns the limiter bounding worker concurrency.
func (tm *TaskManager) Limiter() *Limiter { return tm.limiter }

// Shutdown rejects new tasks and waits for running ones until ctx ends.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.closed.Store(true)
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		tm.logger.Debug("task manager stopped", zap.Int64("tasks", tm.submitted.Load()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
