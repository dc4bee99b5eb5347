package pipeline

import (
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// CacheState is the state of a pipeline cache.
type CacheState int

const (
	CacheEmpty CacheState = iota
	CacheComputing
	CacheCached
	CachePartiallyValid
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheComputing:
		return "computing"
	case CacheCached:
		return "cached"
	case CachePartiallyValid:
		return "partially-valid"
	}
	return "unknown"
}

// Cache stores the most recent output of a pipeline stage together with
// non-owning handles to the evaluations currently in flight, one per
// requested time.
//
// The cache keeps a single main entry. Invalidate can retain the part of that
// entry's validity interval that a change did not affect. An Error state for
// a time outside the main entry is kept next to it instead of replacing it,
// so a failed request leaves earlier results readable. The last computed
// state survives invalidation as stale data for preliminary display.
type Cache struct {
	state   flowstate.PipelineFlowState
	valid   bool
	partial bool

	failed      flowstate.PipelineFlowState
	failedValid bool

	stale    flowstate.PipelineFlowState
	hasStale bool

	inflight   map[timeline.TimePoint]*evaluation
	generation uint64
}

// evaluation is the bookkeeping of one evaluation in flight.
type evaluation struct {
	gen     uint64
	time    timeline.TimePoint
	result  future.WeakFuture[flowstate.PipelineFlowState]
	waiters int
}

// Lookup returns the cached state if its validity contains t.
func (c *Cache) Lookup(t timeline.TimePoint) (flowstate.PipelineFlowState, bool) {
	if c.valid && c.state.StateValidity().Contains(t) {
		return c.state, true
	}
	if c.failedValid && c.failed.StateValidity().Contains(t) {
		return c.failed, true
	}
	return flowstate.PipelineFlowState{}, false
}

// InFlight returns the pending evaluation for t, if one is still alive.
func (c *Cache) InFlight(t timeline.TimePoint) (StateFuture, bool) {
	_, f, ok := c.running(t)
	return f, ok
}

func (c *Cache) running(t timeline.TimePoint) (*evaluation, StateFuture, bool) {
	ev := c.inflight[t]
	if ev == nil {
		return nil, StateFuture{}, false
	}
	f, ok := ev.result.Get()
	if !ok || f.IsDone() {
		return nil, StateFuture{}, false
	}
	return ev, f, true
}

// begin registers a new evaluation for t. It replaces any finished or
// abandoned evaluation registered for the same time.
func (c *Cache) begin(t timeline.TimePoint) *evaluation {
	if c.inflight == nil {
		c.inflight = make(map[timeline.TimePoint]*evaluation)
	}
	c.generation++
	ev := &evaluation{gen: c.generation, time: t}
	c.inflight[t] = ev
	return ev
}

func (c *Cache) track(ev *evaluation, f StateFuture) {
	ev.result = f.Weak()
}

// isCurrent reports whether ev is still the registered evaluation for its time.
func (c *Cache) isCurrent(ev *evaluation) bool {
	return c.inflight[ev.time] == ev
}

// finish stores the result of ev and returns the state as cached. A result
// whose evaluation was dropped by an invalidation in the meantime is
// returned unchanged and not stored.
func (c *Cache) finish(ev *evaluation, st flowstate.PipelineFlowState) flowstate.PipelineFlowState {
	if !c.isCurrent(ev) {
		return st
	}
	delete(c.inflight, ev.time)
	return c.Insert(st, ev.time)
}

// abandon forgets a failed or canceled evaluation.
func (c *Cache) abandon(ev *evaluation) {
	if c.isCurrent(ev) {
		delete(c.inflight, ev.time)
	}
}

// Insert stores st and returns it as stored. A state whose validity does not
// cover t is stored as valid for t only. An Error state that does not overlap
// the valid main entry is stored beside it.
func (c *Cache) Insert(st flowstate.PipelineFlowState, t timeline.TimePoint) flowstate.PipelineFlowState {
	if !st.StateValidity().Contains(t) {
		st.SetStateValidity(timeline.Instant(t))
	}
	c.stale = st
	c.hasStale = true

	if st.Status().IsError() && c.valid && c.state.StateValidity().Intersect(st.StateValidity()).IsEmpty() {
		c.failed = st
		c.failedValid = true
		return st
	}
	c.state = st
	c.valid = true
	c.partial = false
	if c.failedValid && !c.failed.StateValidity().Intersect(st.StateValidity()).IsEmpty() {
		c.failedValid = false
	}
	return st
}

// Invalidate drops the cached entries except for the part of their validity
// that lies inside keep. An empty keep interval clears them. Evaluations in
// flight are dropped unless keep contains their time.
func (c *Cache) Invalidate(keep timeline.TimeInterval) {
	if c.valid {
		remaining := c.state.StateValidity().Intersect(keep)
		if remaining.IsEmpty() {
			c.valid = false
			c.partial = false
		} else if remaining != c.state.StateValidity() {
			c.state.SetStateValidity(remaining)
			c.partial = true
		}
	}
	if c.failedValid {
		remaining := c.failed.StateValidity().Intersect(keep)
		if remaining.IsEmpty() {
			c.failedValid = false
		} else {
			c.failed.SetStateValidity(remaining)
		}
	}
	for t := range c.inflight {
		if !keep.Contains(t) {
			delete(c.inflight, t)
		}
	}
}

// Override replaces the data of the cached entry with data, keeping its
// validity, status and attributes. It is used when the data of a source
// was edited in place.
func (c *Cache) Override(data *flowstate.DataCollection) {
	if !c.valid {
		return
	}
	st := c.state.Copy()
	st.SetData(data)
	c.state = st
	c.stale = st
	c.hasStale = true
}

// Stale returns the most recently computed state, even if it was invalidated.
func (c *Cache) Stale() (flowstate.PipelineFlowState, bool) {
	return c.stale, c.hasStale
}

// Clear forgets everything including stale data.
func (c *Cache) Clear() {
	c.Invalidate(timeline.Empty())
	c.failed = flowstate.PipelineFlowState{}
	c.stale = flowstate.PipelineFlowState{}
	c.hasStale = false
}

// State reports the cache state.
func (c *Cache) State() CacheState {
	for t := range c.inflight {
		if _, _, ok := c.running(t); ok {
			return CacheComputing
		}
	}
	switch {
	case c.valid && c.partial:
		return CachePartiallyValid
	case c.valid:
		return CacheCached
	}
	return CacheEmpty
}

// Validity returns the validity of the cached entry, or an empty interval.
func (c *Cache) Validity() timeline.TimeInterval {
	if !c.valid {
		return timeline.Empty()
	}
	return c.state.StateValidity()
}
