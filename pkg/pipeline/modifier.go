package pipeline

import (
	"context"

	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// Modifier is an algorithm applied to the output of an upstream pipeline
// stage. One modifier may be inserted into several pipelines; each insertion
// site is a ModifierApplication.
type Modifier interface {
	refgraph.Object

	Title() string
	IsEnabled() bool
	SetEnabled(enabled bool)

	// Evaluate computes the output of the modifier for the given input. The
	// input state is borrowed; the modifier works on a copy.
	Evaluate(ctx context.Context, req Request, app ModifierApplicationObject, input flowstate.PipelineFlowState) StateFuture

	// EvaluateSynchronous modifies state in place without blocking. It is the
	// whole computation of simple modifiers and the preliminary stand-in of
	// asynchronous ones.
	EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error
}

// ApplicationCreator is implemented by modifiers that need a specialized
// ModifierApplication.
type ApplicationCreator interface {
	CreateApplication(ds *Dataset) ModifierApplicationObject
}

// Initializer is implemented by modifiers that adjust their parameters to
// the pipeline they are inserted into.
type Initializer interface {
	InitializeModifier(ctx context.Context, app ModifierApplicationObject)
}

// ModifierBase provides the enabled flag, the title and the default
// synchronous Evaluate. Concrete modifiers embed it and implement
// EvaluateSynchronous.
type ModifierBase struct {
	refgraph.Node

	dataset *Dataset
	title   string
	enabled bool
}

// InitModifier binds the modifier to its dataset.
func (m *ModifierBase) InitModifier(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	m.Init(self, fields...)
	m.dataset = ds
	m.enabled = true
}

// Dataset returns the dataset of the modifier.
func (m *ModifierBase) Dataset() *Dataset { return m.dataset }

// Title returns the display title of the modifier.
func (m *ModifierBase) Title() string {
	if m.title == "" {
		return DefaultTitle(m.Self())
	}
	return m.title
}

// SetTitle changes the display title.
func (m *ModifierBase) SetTitle(title string) {
	if title == m.title {
		return
	}
	m.title = title
	m.NotifyDependents(refgraph.NewEvent(refgraph.TitleChanged))
}

// IsEnabled reports whether the modifier is applied.
func (m *ModifierBase) IsEnabled() bool { return m.enabled }

// SetEnabled turns the modifier on or off.
func (m *ModifierBase) SetEnabled(enabled bool) {
	if enabled == m.enabled {
		return
	}
	m.enabled = enabled
	m.NotifyDependents(refgraph.NewEvent(refgraph.TargetEnabledOrDisabled))
}

// Evaluate applies the modifier synchronously to a copy of input.
func (m *ModifierBase) Evaluate(ctx context.Context, req Request, app ModifierApplicationObject, input flowstate.PipelineFlowState) StateFuture {
	self, ok := m.Self().(Modifier)
	if !ok {
		return future.Ready(input)
	}
	out := input.Copy()
	if err := self.EvaluateSynchronous(req.Time, app, &out); err != nil {
		out.Release()
		return future.Failed[flowstate.PipelineFlowState](err)
	}
	return future.Ready(out)
}

// ParameterChanged announces a parameter change to all applications of the
// modifier, which discard their cached results.
func (m *ModifierBase) ParameterChanged() {
	m.NotifyTargetChanged()
}

// Applications returns the insertion sites of the modifier.
func (m *ModifierBase) Applications() []ModifierApplicationObject {
	var apps []ModifierApplicationObject
	for _, d := range m.Dependents() {
		if app, ok := d.(ModifierApplicationObject); ok && refgraph.Same(app.Modifier(), m.Self()) {
			apps = append(apps, app)
		}
	}
	return apps
}
