package pipeline

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// ComputeEngine carries out the expensive part of an asynchronous modifier.
//
// An engine is created on the owning goroutine from a snapshot of its inputs.
// Perform runs on a worker and may only touch that snapshot and the engine's
// own output buffers. EmitResults runs on the owning goroutine again and is
// the only place where computed data enters the pipeline state.
type ComputeEngine interface {
	Perform(ctx context.Context, progress *concurrency.Progress) error
	EmitResults(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error
	ValidityInterval() timeline.TimeInterval
	SetValidityInterval(iv timeline.TimeInterval)
}

// ComputeEngineBase stores the validity interval of an engine's results.
type ComputeEngineBase struct {
	validity timeline.TimeInterval
}

// NewComputeEngineBase creates an engine base whose results are valid for iv.
func NewComputeEngineBase(iv timeline.TimeInterval) ComputeEngineBase {
	return ComputeEngineBase{validity: iv}
}

func (e *ComputeEngineBase) ValidityInterval() timeline.TimeInterval     { return e.validity }
func (e *ComputeEngineBase) SetValidityInterval(iv timeline.TimeInterval) { e.validity = iv }

// EngineFactory is implemented by asynchronous modifiers. CreateEngine runs on
// the owning goroutine and may read the live pipeline state; the engine it
// produces must not reference it.
type EngineFactory interface {
	CreateEngine(ctx context.Context, req Request, app ModifierApplicationObject, input flowstate.PipelineFlowState) future.Future[ComputeEngine]
}

// ResultsDiscarder decides whether the last results of an asynchronous
// modifier survive a change of its input or its parameters.
type ResultsDiscarder interface {
	DiscardResultsOnInputChange() bool
	DiscardResultsOnModifierChange(ev refgraph.Event) bool
}

type engineHolder interface {
	LastResults() ComputeEngine
	SetLastResults(e ComputeEngine)
}

// AsynchronousModifier computes its results in a ComputeEngine on a worker.
type AsynchronousModifier struct {
	ModifierBase
}

// InitAsynchronousModifier initializes a modifier embedded in self.
func (m *AsynchronousModifier) InitAsynchronousModifier(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	m.InitModifier(self, ds, fields...)
}

// Evaluate reuses the last results if they are valid at req.Time and starts
// a new engine otherwise.
func (m *AsynchronousModifier) Evaluate(ctx context.Context, req Request, app ModifierApplicationObject, input flowstate.PipelineFlowState) StateFuture {
	return evaluateAsynchronous(ctx, req, m.Self().(Modifier), app, input)
}

// EvaluateSynchronous re-applies the last results to state.
func (m *AsynchronousModifier) EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	return applyLastResults(t, app, state)
}

// CreateApplication returns an application that stores engine results.
func (m *AsynchronousModifier) CreateApplication(ds *Dataset) ModifierApplicationObject {
	return NewAsynchronousModifierApplication(ds)
}

// DiscardResultsOnInputChange keeps results for preliminary display.
func (m *AsynchronousModifier) DiscardResultsOnInputChange() bool { return false }

// DiscardResultsOnModifierChange discards results on every parameter change.
func (m *AsynchronousModifier) DiscardResultsOnModifierChange(refgraph.Event) bool { return true }

// AsynchronousDelegatingModifier is an asynchronous modifier whose engine is
// configured by a delegate selected through an operate-on key.
type AsynchronousDelegatingModifier struct {
	DelegatingModifier
}

// InitAsynchronousDelegatingModifier initializes a modifier embedded in self.
func (m *AsynchronousDelegatingModifier) InitAsynchronousDelegatingModifier(self refgraph.Object, ds *Dataset, kind string, fields ...refgraph.FieldDescriptor) {
	m.InitDelegatingModifier(self, ds, kind, fields...)
}

func (m *AsynchronousDelegatingModifier) Evaluate(ctx context.Context, req Request, app ModifierApplicationObject, input flowstate.PipelineFlowState) StateFuture {
	return evaluateAsynchronous(ctx, req, m.Self().(Modifier), app, input)
}

func (m *AsynchronousDelegatingModifier) EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	return applyLastResults(t, app, state)
}

func (m *AsynchronousDelegatingModifier) CreateApplication(ds *Dataset) ModifierApplicationObject {
	return NewAsynchronousModifierApplication(ds)
}

func (m *AsynchronousDelegatingModifier) DiscardResultsOnInputChange() bool { return false }

func (m *AsynchronousDelegatingModifier) DiscardResultsOnModifierChange(refgraph.Event) bool {
	return true
}

func evaluateAsynchronous(ctx context.Context, req Request, mod Modifier, app ModifierApplicationObject, input flowstate.PipelineFlowState) StateFuture {
	holder, _ := app.(engineHolder)
	if holder != nil {
		if engine := holder.LastResults(); engine != nil && engine.ValidityInterval().Contains(req.Time) {
			st := input.Copy()
			if err := engine.EmitResults(req.Time, app, &st); err != nil {
				st.Release()
				return future.Failed[flowstate.PipelineFlowState](err)
			}
			st.IntersectStateValidity(engine.ValidityInterval())
			return future.Ready(st)
		}
	}

	factory, ok := mod.(EngineFactory)
	if !ok {
		return future.Failed[flowstate.PipelineFlowState](fmt.Errorf("%T does not create compute engines", mod))
	}
	ds := app.Dataset()
	exec := ds.Executor()

	created := factory.CreateEngine(ctx, req, app, input)
	performed := future.ThenFuture(created, exec, func(engine ComputeEngine) future.Future[ComputeEngine] {
		return concurrency.Run(ds.Tasks(), ctx, mod.Title(), func(ctx context.Context, p *concurrency.Progress) (ComputeEngine, error) {
			if err := engine.Perform(ctx, p); err != nil {
				return nil, err
			}
			return engine, nil
		})
	})
	return future.Then(performed, exec, func(engine ComputeEngine) (flowstate.PipelineFlowState, error) {
		engine.SetValidityInterval(engine.ValidityInterval().Intersect(input.StateValidity()))
		if holder != nil {
			holder.SetLastResults(engine)
		}
		st := input.Copy()
		if err := engine.EmitResults(req.Time, app, &st); err != nil {
			st.Release()
			return flowstate.PipelineFlowState{}, err
		}
		st.IntersectStateValidity(engine.ValidityInterval())
		return st, nil
	})
}

func applyLastResults(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	holder, ok := app.(engineHolder)
	if !ok {
		return nil
	}
	engine := holder.LastResults()
	if engine == nil {
		return nil
	}
	return engine.EmitResults(t, app, state)
}

// AsynchronousModifierApplication keeps the most recent engine of its
// modifier so that later requests inside the engine's validity interval and
// preliminary evaluations can reuse the results.
type AsynchronousModifierApplication struct {
	ModifierApplication

	lastResults ComputeEngine
}

// NewAsynchronousModifierApplication creates an unconnected application.
func NewAsynchronousModifierApplication(ds *Dataset) *AsynchronousModifierApplication {
	a := &AsynchronousModifierApplication{}
	a.InitAsynchronousModifierApplication(a, ds)
	return a
}

// InitAsynchronousModifierApplication initializes an application embedded in self.
func (a *AsynchronousModifierApplication) InitAsynchronousModifierApplication(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	a.InitModifierApplication(self, ds, fields...)
}

// LastResults returns the most recent engine, or nil.
func (a *AsynchronousModifierApplication) LastResults() ComputeEngine { return a.lastResults }

// SetLastResults replaces the stored engine.
func (a *AsynchronousModifierApplication) SetLastResults(e ComputeEngine) { a.lastResults = e }

// ReferenceEvent narrows or discards the stored results before the usual
// cache invalidation takes place. Results a modifier chooses to keep across
// a parameter change stay valid and are reused by the next evaluation.
func (a *AsynchronousModifierApplication) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	if a.lastResults != nil && source != nil {
		discarder, _ := a.Modifier().(ResultsDiscarder)
		switch {
		case ev.Kind == refgraph.TargetChanged && refgraph.Same(source, a.Input()):
			if discarder != nil && discarder.DiscardResultsOnInputChange() {
				a.lastResults = nil
			} else {
				a.lastResults.SetValidityInterval(a.lastResults.ValidityInterval().Intersect(ev.Unchanged))
			}
		case ev.Kind == refgraph.TargetChanged && refgraph.Same(source, a.Modifier()):
			if discarder == nil || discarder.DiscardResultsOnModifierChange(ev) {
				a.lastResults = nil
			}
		case ev.Kind == refgraph.TargetEnabledOrDisabled && refgraph.Same(source, a.Modifier()):
			a.lastResults = nil
		}
	}
	return a.ModifierApplication.ReferenceEvent(source, ev)
}

// ReferenceReplaced drops the stored results when the modifier is exchanged.
func (a *AsynchronousModifierApplication) ReferenceReplaced(field string, oldTarget, newTarget refgraph.Object) {
	if field == "modifier" {
		a.lastResults = nil
	}
	a.ModifierApplication.ReferenceReplaced(field, oldTarget, newTarget)
}
