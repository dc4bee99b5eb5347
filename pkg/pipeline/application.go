package pipeline

import (
	"context"
	"fmt"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// ModifierApplicationObject is the interface shared by ModifierApplication
// and its specializations.
type ModifierApplicationObject interface {
	PipelineObject

	Modifier() Modifier
	SetModifier(m Modifier) error
	Input() PipelineObject
	SetInput(p PipelineObject) error
	PipelineSource() PipelineObject
	EvaluateInput(ctx context.Context, req Request) StateFuture
	Cache() *Cache
}

var applicationFields = []refgraph.FieldDescriptor{
	{Name: "modifier"},
	{Name: "input", Clone: refgraph.CloneNever},
}

// ModifierApplication inserts a Modifier into a pipeline. It evaluates its
// input, runs the modifier on the result and caches the output.
type ModifierApplication struct {
	CachingPipelineObject

	modStatus flowstate.Status
}

// NewModifierApplication creates an unconnected modifier application.
func NewModifierApplication(ds *Dataset) *ModifierApplication {
	a := &ModifierApplication{}
	a.InitModifierApplication(a, ds)
	return a
}

// InitModifierApplication initializes an application embedded in self.
func (a *ModifierApplication) InitModifierApplication(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	a.InitCachingPipelineObject(self, ds, append(append([]refgraph.FieldDescriptor{}, applicationFields...), fields...)...)
}

// Modifier returns the applied modifier, or nil.
func (a *ModifierApplication) Modifier() Modifier {
	m, _ := a.Link("modifier").(Modifier)
	return m
}

// SetModifier replaces the applied modifier.
func (a *ModifierApplication) SetModifier(m Modifier) error {
	if m == nil {
		return a.SetLink("modifier", nil)
	}
	return a.SetLink("modifier", m)
}

// Input returns the upstream stage, or nil.
func (a *ModifierApplication) Input() PipelineObject {
	p, _ := a.Link("input").(PipelineObject)
	return p
}

// SetInput connects the application to an upstream stage. It fails with
// ErrCyclicReference if p is downstream of this application.
func (a *ModifierApplication) SetInput(p PipelineObject) error {
	if p == nil {
		return a.SetLink("input", nil)
	}
	return a.SetLink("input", p)
}

// PipelineSource walks upstream and returns the stage at the head of the pipeline.
func (a *ModifierApplication) PipelineSource() PipelineObject {
	var obj PipelineObject = a.Input()
	for obj != nil {
		app, ok := obj.(ModifierApplicationObject)
		if !ok {
			return obj
		}
		obj = app.Input()
	}
	return nil
}

// Title returns the title of the modifier.
func (a *ModifierApplication) Title() string {
	if m := a.Modifier(); m != nil {
		return m.Title()
	}
	return a.CachingPipelineObject.Title()
}

// EvaluateInput evaluates the upstream stage. Without input the result is an
// empty state valid forever.
func (a *ModifierApplication) EvaluateInput(ctx context.Context, req Request) StateFuture {
	in := a.Input()
	if in == nil {
		return future.Ready(flowstate.EmptyState(flowstate.Success, timeline.Infinite()))
	}
	return in.Evaluate(ctx, req)
}

// EvaluateInternal evaluates the input and then the modifier.
func (a *ModifierApplication) EvaluateInternal(ctx context.Context, req Request) StateFuture {
	self := a.Self().(ModifierApplicationObject)
	exec := a.Dataset().Executor()
	return future.HandleFuture(self.EvaluateInput(ctx, req), exec, func(input flowstate.PipelineFlowState, err error) StateFuture {
		if err != nil {
			return future.Failed[flowstate.PipelineFlowState](err)
		}
		mod := a.Modifier()
		if mod == nil || !mod.IsEnabled() || (req.BreakOnError && input.Status().IsError()) {
			a.modStatus = flowstate.Success
			return future.Ready(input)
		}
		out := mod.Evaluate(ctx, req, self, input)
		return future.Handle(out, exec, func(output flowstate.PipelineFlowState, err error) (flowstate.PipelineFlowState, error) {
			if err != nil {
				return a.modifierFailed(mod, input, err)
			}
			a.modStatus, output = mergeModifierStatus(input, output)
			return output, nil
		})
	})
}

func (a *ModifierApplication) modifierFailed(mod Modifier, input flowstate.PipelineFlowState, err error) (flowstate.PipelineFlowState, error) {
	if perrors.IsCanceled(err) {
		return flowstate.PipelineFlowState{}, err
	}
	st := input.Copy()
	status := flowstate.NewStatus(flowstate.StatusError,
		fmt.Sprintf("Modifier '%s' reported: %s", mod.Title(), err.Error()))
	st.SetStatus(status)
	a.modStatus = status
	return st, nil
}

// mergeModifierStatus applies the status rule of a modifier application: the
// input status flows through unless the modifier produced a different,
// non-success status. It returns the status attributable to the modifier
// and the output state carrying the merged status.
func mergeModifierStatus(input, output flowstate.PipelineFlowState) (flowstate.Status, flowstate.PipelineFlowState) {
	modStatus := flowstate.Success
	if output.Status() != input.Status() {
		modStatus = output.Status()
	}
	if modStatus.IsSuccess() {
		output.SetStatus(input.Status())
	} else {
		output.SetStatus(modStatus)
	}
	return modStatus, output
}

func (a *ModifierApplication) outputStatus(flowstate.PipelineFlowState) flowstate.Status {
	return a.modStatus
}

// EvaluateSynchronous returns the cached state for t or applies the
// modifier synchronously to the preliminary input.
func (a *ModifierApplication) EvaluateSynchronous(t timeline.TimePoint) flowstate.PipelineFlowState {
	if st, ok := a.Cache().Lookup(t); ok {
		return st
	}
	var st flowstate.PipelineFlowState
	if in := a.Input(); in != nil {
		st = in.EvaluateSynchronous(t).Copy()
	} else {
		st = flowstate.EmptyState(flowstate.Success, timeline.Infinite())
	}
	mod := a.Modifier()
	if mod == nil || !mod.IsEnabled() {
		return st
	}
	if err := mod.EvaluateSynchronous(t, a.Self().(ModifierApplicationObject), &st); err != nil {
		st.SetStatus(flowstate.NewStatus(flowstate.StatusError,
			fmt.Sprintf("Modifier '%s' reported: %s", mod.Title(), err.Error())))
	}
	return st
}

// NumberOfSourceFrames forwards to the input.
func (a *ModifierApplication) NumberOfSourceFrames() int {
	if in := a.Input(); in != nil {
		return in.NumberOfSourceFrames()
	}
	return a.CachingPipelineObject.NumberOfSourceFrames()
}

// SourceFrameToAnimationTime forwards to the input.
func (a *ModifierApplication) SourceFrameToAnimationTime(frame int) timeline.TimePoint {
	if in := a.Input(); in != nil {
		return in.SourceFrameToAnimationTime(frame)
	}
	return a.CachingPipelineObject.SourceFrameToAnimationTime(frame)
}

// AnimationTimeToSourceFrame forwards to the input.
func (a *ModifierApplication) AnimationTimeToSourceFrame(t timeline.TimePoint) int {
	if in := a.Input(); in != nil {
		return in.AnimationTimeToSourceFrame(t)
	}
	return a.CachingPipelineObject.AnimationTimeToSourceFrame(t)
}

// AnimationFrameLabels forwards to the input.
func (a *ModifierApplication) AnimationFrameLabels() map[int]string {
	if in := a.Input(); in != nil {
		return in.AnimationFrameLabels()
	}
	return nil
}

// ReferenceEvent handles notifications from the input and the modifier.
func (a *ModifierApplication) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	switch {
	case source != nil && refgraph.Same(source, a.Input()):
		switch ev.Kind {
		case refgraph.TargetChanged:
			a.InvalidatePipelineCache(ev.Unchanged)
			return true
		case refgraph.PreliminaryStateAvailable:
			if mod := a.Modifier(); mod != nil {
				mod.Base().NotifyDependents(refgraph.NewEvent(refgraph.ModifierInputChanged))
			}
			return true
		case refgraph.PipelineChanged, refgraph.AnimationFramesChanged:
			return true
		}
	case source != nil && refgraph.Same(source, a.Modifier()):
		switch ev.Kind {
		case refgraph.TargetChanged:
			a.InvalidatePipelineCache(timeline.Empty())
			return true
		case refgraph.TargetEnabledOrDisabled:
			a.InvalidatePipelineCache(timeline.Empty())
			a.NotifyTargetChanged()
			return true
		}
	}
	return a.PipelineObjectBase.ReferenceEvent(source, ev)
}

// ReferenceReplaced invalidates the cache when the input or the modifier
// is exchanged.
func (a *ModifierApplication) ReferenceReplaced(field string, oldTarget, newTarget refgraph.Object) {
	a.InvalidatePipelineCache(timeline.Empty())
	a.NotifyTargetChanged()
	if field == "input" {
		a.NotifyDependents(refgraph.NewEvent(refgraph.PipelineChanged))
		a.NotifyDependents(refgraph.NewEvent(refgraph.AnimationFramesChanged))
	}
}

// Apply inserts mod into a pipeline on top of input.
func Apply(ctx context.Context, ds *Dataset, mod Modifier, input PipelineObject) (ModifierApplicationObject, error) {
	var app ModifierApplicationObject
	if creator, ok := mod.(ApplicationCreator); ok {
		app = creator.CreateApplication(ds)
	} else {
		app = NewModifierApplication(ds)
	}
	if err := app.SetInput(input); err != nil {
		return nil, err
	}
	if err := app.SetModifier(mod); err != nil {
		return nil, err
	}
	if init, ok := mod.(Initializer); ok {
		init.InitializeModifier(ctx, app)
	}
	return app, nil
}
