package pipeline

import (
	"context"

	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// StaticSource is a pipeline head that publishes a fixed set of data
// objects, valid at all times.
type StaticSource struct {
	PipelineObjectBase

	state flowstate.PipelineFlowState
}

// NewStaticSource creates a source publishing objs.
func NewStaticSource(ds *Dataset, objs ...flowstate.DataObject) *StaticSource {
	s := &StaticSource{}
	s.InitPipelineObject(s, ds)
	s.state = flowstate.NewState(flowstate.NewDataCollection(), flowstate.Success, timeline.Infinite())
	for _, o := range objs {
		s.state.AddObject(o)
	}
	return s
}

// SetObjects replaces the published data objects. The previous state may
// still be borrowed by downstream caches, so its share is not released.
func (s *StaticSource) SetObjects(objs ...flowstate.DataObject) {
	s.state = flowstate.NewState(flowstate.NewDataCollection(), flowstate.Success, timeline.Infinite())
	for _, o := range objs {
		s.state.AddObject(o)
	}
	s.NotifyTargetChanged()
}

// SetAttribute publishes a global attribute along with the data objects.
func (s *StaticSource) SetAttribute(key string, v any) {
	s.state.SetAttribute(key, v)
	s.NotifyTargetChanged()
}

// Objects returns the published data objects.
func (s *StaticSource) Objects() []flowstate.DataObject { return s.state.Objects() }

// Evaluate returns the published state.
func (s *StaticSource) Evaluate(context.Context, Request) StateFuture {
	return future.Ready(s.state)
}

// EvaluateSynchronous returns the published state.
func (s *StaticSource) EvaluateSynchronous(timeline.TimePoint) flowstate.PipelineFlowState {
	return s.state
}
