// Package future provides the promise/future abstraction used by the
// asynchronous pipeline. Continuations always run on the owning goroutine
// through an Executor; promises may be completed from any goroutine.
package future

import (
	"context"
	"errors"
	"sync"
	"weak"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
)

// ErrNotReady is returned by Result when the future has not completed yet.
var ErrNotReady = errors.New("future has not completed")

type state[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func()

	ctx    context.Context
	cancel context.CancelFunc
}

func newState[T any]() *state[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &state[T]{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *state[T]) complete(v T, err error) bool {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return false
	}
	s.completed = true
	s.value = v
	s.err = err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return true
}

func (s *state[T]) subscribe(cb func()) {
	s.mu.Lock()
	if !s.completed {
		s.callbacks = append(s.callbacks, cb)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	cb()
}

// Promise is the producing side of a Future.
type Promise[T any] struct {
	st *state[T]
}

// NewPromise creates a promise with an unresolved future.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{st: newState[T]()}
}

// Future returns the consuming side of the promise.
func (p *Promise[T]) Future() Future[T] {
	return Future[T]{st: p.st}
}

// Context is canceled when the future gets canceled. Producers pass it to
// the work they run so that cancellation can be observed.
func (p *Promise[T]) Context() context.Context {
	return p.st.ctx
}

// IsCanceled reports whether the consumer canceled the future.
func (p *Promise[T]) IsCanceled() bool {
	return p.st.ctx.Err() != nil
}

// Resolve completes the future with a value.
func (p *Promise[T]) Resolve(v T) bool {
	return p.st.complete(v, nil)
}

// Reject completes the future with an error.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	if err == nil {
		err = errors.New("promise rejected without error")
	}
	return p.st.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (p *Promise[T]) Complete(v T, err error) bool {
	if err != nil {
		return p.Reject(err)
	}
	return p.Resolve(v)
}

// Future is the consuming side of an asynchronous result. The zero value is invalid.
type Future[T any] struct {
	st *state[T]
}

// Ready returns an already completed future.
func Ready[T any](v T) Future[T] {
	p := NewPromise[T]()
	p.Resolve(v)
	return p.Future()
}

// Failed returns an already failed future.
func Failed[T any](err error) Future[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p.Future()
}

// IsValid reports whether the future is bound to a promise.
func (f Future[T]) IsValid() bool { return f.st != nil }

// IsDone reports whether the future has completed.
func (f Future[T]) IsDone() bool {
	if f.st == nil {
		return false
	}
	select {
	case <-f.st.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed on completion.
func (f Future[T]) Done() <-chan struct{} {
	return f.st.done
}

// Result returns the outcome of a completed future without blocking.
func (f Future[T]) Result() (T, error) {
	if !f.IsDone() {
		var zero T
		return zero, ErrNotReady
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.st.value, f.st.err
}

// Cancel cancels the future. Pending work observes the cancellation through
// the promise context; the future completes with ErrCanceled if it was still open.
func (f Future[T]) Cancel() {
	if f.st == nil {
		return
	}
	f.st.cancel()
	var zero T
	f.st.complete(zero, perrors.ErrCanceled)
}

// IsCanceled reports whether the future was canceled.
func (f Future[T]) IsCanceled() bool {
	return f.st != nil && f.st.ctx.Err() != nil
}

// Same reports whether both futures share one underlying promise.
func (f Future[T]) Same(other Future[T]) bool {
	return f.st == other.st
}

// OnComplete runs fn on the executor once the future has completed.
func (f Future[T]) OnComplete(exec *Executor, fn func(T, error)) {
	f.st.subscribe(func() {
		exec.Post(func() {
			v, err := f.Result()
			fn(v, err)
		})
	})
}

// Wait blocks until the future completes while running the executor's
// callbacks, so continuations scheduled for the owning goroutine can make
// progress. It must be called on the owning goroutine. If ctx ends first the
// future is canceled and ctx's error is returned.
func (f Future[T]) Wait(ctx context.Context, exec *Executor) (T, error) {
	for {
		if exec != nil {
			exec.ProcessEvents()
		}
		if f.IsDone() {
			if exec != nil {
				exec.ProcessEvents()
			}
			return f.Result()
		}
		select {
		case <-f.st.done:
		case <-exec.wakeup():
		case <-ctx.Done():
			f.Cancel()
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Weak returns a handle that does not keep the future's state alive.
func (f Future[T]) Weak() WeakFuture[T] {
	if f.st == nil {
		return WeakFuture[T]{}
	}
	return WeakFuture[T]{ptr: weak.Make(f.st)}
}

// WeakFuture is a non-owning reference to a future.
type WeakFuture[T any] struct {
	ptr weak.Pointer[state[T]]
}

// Get returns the future if it is still referenced elsewhere.
func (w WeakFuture[T]) Get() (Future[T], bool) {
	st := w.ptr.Value()
	if st == nil {
		return Future[T]{}, false
	}
	return Future[T]{st: st}, true
}

// Share returns a future that completes with the outcome of f. Canceling the
// returned future leaves f running.
func Share[T any](f Future[T]) Future[T] {
	p := NewPromise[T]()
	f.st.subscribe(func() {
		p.Complete(f.Result())
	})
	return p.Future()
}

// Then runs fn on the executor after f succeeded. Errors skip fn and propagate.
func Then[T, U any](f Future[T], exec *Executor, fn func(T) (U, error)) Future[U] {
	return Handle(f, exec, func(v T, err error) (U, error) {
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(v)
	})
}

// Handle runs fn on the executor with the outcome of f, success or failure.
func Handle[T, U any](f Future[T], exec *Executor, fn func(T, error) (U, error)) Future[U] {
	p := NewPromise[U]()
	f.OnComplete(exec, func(v T, err error) {
		if p.IsCanceled() {
			return
		}
		p.Complete(fn(v, err))
	})
	return p.Future()
}

// ThenFuture chains an asynchronous step after f succeeded.
func ThenFuture[T, U any](f Future[T], exec *Executor, fn func(T) Future[U]) Future[U] {
	return HandleFuture(f, exec, func(v T, err error) Future[U] {
		if err != nil {
			return Failed[U](err)
		}
		return fn(v)
	})
}

// HandleFuture chains an asynchronous step after f completed, success or failure.
func HandleFuture[T, U any](f Future[T], exec *Executor, fn func(T, error) Future[U]) Future[U] {
	p := NewPromise[U]()
	f.OnComplete(exec, func(v T, err error) {
		if p.IsCanceled() {
			return
		}
		next := fn(v, err)
		if !next.IsValid() {
			p.Reject(errors.New("continuation returned an invalid future"))
			return
		}
		next.st.subscribe(func() {
			p.Complete(next.Result())
		})
	})
	return p.Future()
}
