package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

func TestModifierApplicationCopiesOnWrite(t *testing.T) {
	ds := newTestDataset(t)
	original := newCounter("count", 10)
	src := NewStaticSource(ds, original)

	app, err := Apply(context.Background(), ds, newAddModifier(ds, 5), src)
	require.NoError(t, err)

	st := evaluateAt(t, app, 0)
	assert.Equal(t, 15, counterValue(t, st, "count"))
	assert.Equal(t, 10, original.Value, "source data must not change")
	assert.True(t, st.StateValidity().IsInfinite())
	assert.Equal(t, "Add", app.Title())
}

func TestModifierChainEvaluatesUpstreamOnce(t *testing.T) {
	ds := newTestDataset(t)
	src := newTestSource(ds, 1)

	first, err := Apply(context.Background(), ds, newAddModifier(ds, 1), src)
	require.NoError(t, err)
	second, err := Apply(context.Background(), ds, newAddModifier(ds, 10), first)
	require.NoError(t, err)

	st := evaluateAt(t, second, 0)
	assert.Equal(t, 12, counterValue(t, st, "count"))
	assert.Same(t, src, second.PipelineSource())

	// The intermediate result is cached and unaffected by the second stage.
	mid := evaluateAt(t, first, 0)
	assert.Equal(t, 2, counterValue(t, mid, "count"))
	assert.Equal(t, 1, src.calls)
}

func TestModifierErrorBecomesErrorState(t *testing.T) {
	ds := newTestDataset(t)
	src := NewStaticSource(ds, newCounter("count", 1))
	app, err := Apply(context.Background(), ds, newFailingModifier(ds), src)
	require.NoError(t, err)

	st := evaluateAt(t, app, 0)
	assert.Equal(t, flowstate.StatusError, st.Status().Type)
	assert.Equal(t, "Modifier 'Failing' reported: boom", st.Status().Text)
	assert.Equal(t, 1, counterValue(t, st, "count"), "input data is passed on")
	assert.True(t, app.Status().IsError())
}

func TestStatusPropagation(t *testing.T) {
	ds := newTestDataset(t)
	src := newTestSource(ds, 1)
	src.status = flowstate.NewStatus(flowstate.StatusWarning, "upstream")

	mod := newAddModifier(ds, 1)
	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	st := evaluateAt(t, app, 0)
	assert.Equal(t, src.status, st.Status(), "input status flows through")
	assert.Equal(t, flowstate.Success, app.Status())

	mod.status = flowstate.NewStatus(flowstate.StatusWarning, "modifier")
	mod.ParameterChanged()

	st = evaluateAt(t, app, 0)
	assert.Equal(t, mod.status, st.Status(), "modifier status replaces input status")
	assert.Equal(t, mod.status, app.Status())
}

func TestBreakOnErrorSkipsModifier(t *testing.T) {
	ds := newTestDataset(t)
	src := newTestSource(ds, 1)
	src.status = flowstate.NewStatus(flowstate.StatusError, "broken input")
	app, err := Apply(context.Background(), ds, newAddModifier(ds, 1), src)
	require.NoError(t, err)

	st, err := ds.Wait(context.Background(), app.Evaluate(context.Background(), Request{Time: 0, BreakOnError: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, counterValue(t, st, "count"))
	assert.Equal(t, "broken input", st.Status().Text)
}

func TestDisabledModifierPassesInputThrough(t *testing.T) {
	ds := newTestDataset(t)
	obj := newCounter("count", 1)
	src := NewStaticSource(ds, obj)
	mod := newAddModifier(ds, 1)
	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	assert.Equal(t, 2, counterValue(t, evaluateAt(t, app, 0), "count"))

	mod.SetEnabled(false)
	st := evaluateAt(t, app, 0)
	got, ok := flowstate.GetObject[*counter](st)
	require.True(t, ok)
	assert.Same(t, obj, got)
}

func TestParameterChangeInvalidatesApplication(t *testing.T) {
	ds := newTestDataset(t)
	src := newTestSource(ds, 1)
	mod := newAddModifier(ds, 1)
	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	assert.Equal(t, 2, counterValue(t, evaluateAt(t, app, 0), "count"))
	mod.SetDelta(100)
	assert.Equal(t, CacheEmpty, app.Cache().State())
	assert.Equal(t, 101, counterValue(t, evaluateAt(t, app, 0), "count"))
	assert.Equal(t, 1, src.calls, "upstream cache is untouched")
}

func TestSetInputRejectsCycles(t *testing.T) {
	ds := newTestDataset(t)
	a := NewModifierApplication(ds)
	b := NewModifierApplication(ds)

	require.NoError(t, a.SetInput(b))
	err := b.SetInput(a)
	require.Error(t, err)
	assert.True(t, perrors.IsCyclicReference(err))
	assert.Error(t, a.SetInput(a))
}

func TestReplacingInputInvalidatesAndAnnouncesPipelineChange(t *testing.T) {
	ds := newTestDataset(t)
	app, err := Apply(context.Background(), ds, newAddModifier(ds, 1), newTestSource(ds, 1))
	require.NoError(t, err)
	evaluateAt(t, app, 0)

	rec := newEventRecorder()
	require.NoError(t, rec.Watch(app))

	require.NoError(t, app.SetInput(newTestSource(ds, 7)))
	assert.Equal(t, CacheEmpty, app.Cache().State())
	assert.Contains(t, rec.kinds, refgraph.PipelineChanged)
	assert.Contains(t, rec.kinds, refgraph.AnimationFramesChanged)
	assert.Equal(t, 8, counterValue(t, evaluateAt(t, app, 0), "count"))
}

func TestEvaluateSynchronousAppliesModifierToPreliminaryInput(t *testing.T) {
	ds := newTestDataset(t)
	src := newTestSource(ds, 1)
	app, err := Apply(context.Background(), ds, newAddModifier(ds, 1), src)
	require.NoError(t, err)

	assert.True(t, app.EvaluateSynchronous(0).IsEmpty(), "nothing computed yet")

	evaluateAt(t, src, 0)
	st := app.EvaluateSynchronous(0)
	assert.Equal(t, 2, counterValue(t, st, "count"))
	assert.Equal(t, CacheEmpty, app.Cache().State(), "preliminary results are not cached")
}

func TestFramesAreForwardedFromInput(t *testing.T) {
	ds := newTestDataset(t)
	app := NewModifierApplication(ds)
	assert.Equal(t, 1, app.NumberOfSourceFrames())
	assert.Equal(t, timeline.TimePoint(960), app.SourceFrameToAnimationTime(2))
}

// eventRecorder collects the events a watched object sends.
type eventRecorder struct {
	refgraph.Node
	kinds []refgraph.EventKind
}

func newEventRecorder() *eventRecorder {
	r := &eventRecorder{}
	r.Init(r, refgraph.FieldDescriptor{Name: "target"})
	return r
}

func (r *eventRecorder) Watch(obj refgraph.Object) error { return r.SetLink("target", obj) }

func (r *eventRecorder) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	r.kinds = append(r.kinds, ev.Kind)
	return false
}
