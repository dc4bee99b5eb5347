package pipeline

import (
	"context"
	"fmt"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Evaluator is implemented by caching pipeline objects. EvaluateInternal
// starts a fresh evaluation; it is only called after a cache miss.
type Evaluator interface {
	EvaluateInternal(ctx context.Context, req Request) StateFuture
}

// outputStatuser lets a pipeline object derive its own status from the state
// it produced. Without it, the object status is the state's status.
type outputStatuser interface {
	outputStatus(st flowstate.PipelineFlowState) flowstate.Status
}

// CachingPipelineObject is a pipeline object that caches its output and
// shares in-flight evaluations between callers.
type CachingPipelineObject struct {
	PipelineObjectBase

	cache   Cache
	pending int
}

// InitCachingPipelineObject binds the object to its dataset.
func (c *CachingPipelineObject) InitCachingPipelineObject(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	c.InitPipelineObject(self, ds, fields...)
}

// Cache exposes the output cache of the object.
func (c *CachingPipelineObject) Cache() *Cache { return &c.cache }

// Status returns StatusPending while an evaluation is running.
func (c *CachingPipelineObject) Status() flowstate.Status {
	if c.pending > 0 {
		return flowstate.NewStatus(flowstate.StatusPending, c.PipelineObjectBase.Status().Text)
	}
	return c.PipelineObjectBase.Status()
}

// IsEvaluating reports whether an evaluation of this object is running.
func (c *CachingPipelineObject) IsEvaluating() bool { return c.pending > 0 }

// Evaluate returns the cached state for req.Time, joins an evaluation in
// flight for the same time, or starts a new one. Every call returns a
// future of its own, so canceling it does not affect other callers.
func (c *CachingPipelineObject) Evaluate(ctx context.Context, req Request) StateFuture {
	m := c.Dataset().Metrics()
	if st, ok := c.cache.Lookup(req.Time); ok {
		m.CacheLookup("hit")
		return future.Ready(st)
	}
	if ev, f, ok := c.cache.running(req.Time); ok {
		m.CacheLookup("inflight")
		return c.join(ev, f)
	}
	m.CacheLookup("miss")

	evaluator, ok := c.Self().(Evaluator)
	if !ok {
		return future.Failed[flowstate.PipelineFlowState](
			fmt.Errorf("%T does not implement EvaluateInternal", c.Self()))
	}

	ds := c.Dataset()
	logger := ds.Logger()
	stage := fmt.Sprintf("%T", c.Self())
	ctx, span := otel.Tracer("helios/pipeline").Start(ctx, "pipeline.evaluate",
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("node", c.ID().String()),
			attribute.Int("time", int(req.Time))))

	ev := c.cache.begin(req.Time)
	c.pending++
	if c.pending == 1 {
		c.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
	}

	// Canceling the shared result stops the upstream work. Bookkeeping
	// below runs regardless, so the pending counter always returns to zero.
	promise := future.NewPromise[flowstate.PipelineFlowState]()
	evalCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(promise.Context(), cancel)

	inner := evaluator.EvaluateInternal(evalCtx, req)
	inner.OnComplete(ds.Executor(), func(st flowstate.PipelineFlowState, err error) {
		defer span.End()
		stop()
		cancel()
		c.pending--

		if err != nil && perrors.IsCanceled(err) {
			c.cache.abandon(ev)
			span.SetStatus(codes.Error, "canceled")
			m.Evaluation(stage, "canceled")
			c.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
			promise.Reject(err)
			return
		}
		if err != nil {
			logger.Debug("evaluation failed",
				zap.String("node", c.ID().String()),
				zap.Int64("time", int64(req.Time)),
				zap.Error(err))
			st = c.errorState(err, req.Time)
		}

		st = c.cache.finish(ev, st)

		status := st.Status()
		if so, ok := c.Self().(outputStatuser); ok {
			status = so.outputStatus(st)
		}
		c.setStatusQuietly(status)

		outcome := "success"
		if st.Status().IsError() {
			outcome = "error"
			span.SetStatus(codes.Error, st.Status().Text)
		}
		m.Evaluation(stage, outcome)

		c.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
		if req.Time == ds.AnimationSettings().Time() {
			c.NotifyDependents(refgraph.NewEvent(refgraph.PreliminaryStateAvailable))
		}
		promise.Resolve(st)
	})

	shared := promise.Future()
	c.cache.track(ev, shared)
	return c.join(ev, shared)
}

// join hands a caller its own future for a shared evaluation. Canceling it
// detaches only that caller; the shared evaluation is canceled once no
// caller is waiting for it anymore.
func (c *CachingPipelineObject) join(ev *evaluation, shared StateFuture) StateFuture {
	f := future.Share(shared)
	ev.waiters++
	f.OnComplete(c.Dataset().Executor(), func(flowstate.PipelineFlowState, error) {
		if shared.IsDone() {
			return
		}
		ev.waiters--
		if ev.waiters == 0 {
			shared.Cancel()
		}
	})
	return f
}

// errorState converts an evaluation error into an Error state carrying the
// most recent data of the stage.
func (c *CachingPipelineObject) errorState(err error, t timeline.TimePoint) flowstate.PipelineFlowState {
	var st flowstate.PipelineFlowState
	if stale, ok := c.cache.Stale(); ok {
		st = stale.Copy()
	} else {
		st = flowstate.EmptyState(flowstate.Success, timeline.Empty())
	}
	st.SetStatus(flowstate.ErrorStatus(err))
	st.SetStateValidity(timeline.Instant(t))
	return st
}

// EvaluateSynchronous returns the cached state for t, or the last computed
// state if the cache does not cover t.
func (c *CachingPipelineObject) EvaluateSynchronous(t timeline.TimePoint) flowstate.PipelineFlowState {
	if st, ok := c.cache.Lookup(t); ok {
		return st
	}
	if st, ok := c.cache.Stale(); ok {
		return st
	}
	return flowstate.EmptyState(flowstate.Success, timeline.Empty())
}

// InvalidatePipelineCache discards cached results outside keep.
func (c *CachingPipelineObject) InvalidatePipelineCache(keep timeline.TimeInterval) {
	c.cache.Invalidate(keep)
}

// ReferenceEvent invalidates the cache when a referenced object changed.
func (c *CachingPipelineObject) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	if ev.Kind == refgraph.TargetChanged {
		c.InvalidatePipelineCache(ev.Unchanged)
	}
	return c.PipelineObjectBase.ReferenceEvent(source, ev)
}

// AboutToBeDeleted drops all cached data.
func (c *CachingPipelineObject) AboutToBeDeleted() {
	c.cache.Clear()
}
