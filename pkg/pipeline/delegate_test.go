package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

const resetKind = "Reset"

// resetCounters zeroes every counter object.
type resetCounters struct {
	DelegateBase
}

func newResetCounters() ModifierDelegate {
	d := &resetCounters{}
	d.InitDelegate(d, "Counters", "Counters")
	return d
}

func (d *resetCounters) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return flowstate.CountObjects[*counter](st) > 0
}

func (d *resetCounters) Apply(mod Modifier, st *flowstate.PipelineFlowState, t timeline.TimePoint, app ModifierApplicationObject) (flowstate.Status, error) {
	for _, obj := range st.Objects() {
		if c, ok := obj.(*counter); ok {
			flowstate.Mutable(st, c).Value = 0
		}
	}
	return flowstate.NewStatus(flowstate.StatusWarning, "counters reset"), nil
}

// clearLabels empties every label object.
type clearLabels struct {
	DelegateBase
}

func newClearLabels() ModifierDelegate {
	d := &clearLabels{}
	d.InitDelegate(d, "Labels", "Labels")
	return d
}

func (d *clearLabels) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return flowstate.CountObjects[*label](st) > 0
}

func (d *clearLabels) Apply(mod Modifier, st *flowstate.PipelineFlowState, t timeline.TimePoint, app ModifierApplicationObject) (flowstate.Status, error) {
	for _, obj := range st.Objects() {
		if l, ok := obj.(*label); ok {
			flowstate.Mutable(st, l).Text = ""
		}
	}
	return flowstate.NewStatus(flowstate.StatusWarning, "labels cleared"), nil
}

func registerResetDelegates(ds *Dataset) {
	ds.Delegates().Register(resetKind, "Counters", newResetCounters)
	ds.Delegates().Register(resetKind, "Labels", newClearLabels)
}

type resetModifier struct {
	DelegatingModifier
}

func newResetModifier(ds *Dataset) *resetModifier {
	registerResetDelegates(ds)
	m := &resetModifier{}
	m.InitDelegatingModifier(m, ds, resetKind)
	return m
}

type resetAllModifier struct {
	MultiDelegatingModifier
}

func newResetAllModifier(ds *Dataset) *resetAllModifier {
	registerResetDelegates(ds)
	m := &resetAllModifier{}
	m.InitMultiDelegatingModifier(m, ds, resetKind)
	return m
}

func TestSetOperateOnIsCaseInsensitive(t *testing.T) {
	ds := newTestDataset(t)
	mod := newResetModifier(ds)

	require.NoError(t, mod.SetOperateOn("counters"))
	assert.Equal(t, "Counters", mod.OperateOn())
}

func TestSetOperateOnRejectsUnknownKey(t *testing.T) {
	ds := newTestDataset(t)
	mod := newResetModifier(ds)

	err := mod.SetOperateOn("bonds")
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrUnsupportedDelegate))
	assert.Equal(t, "'bonds' is not a supported data element. Valid choices are: Counters, Labels", err.Error())
	assert.Empty(t, mod.OperateOn())
}

func TestDelegatingModifierAppliesDelegate(t *testing.T) {
	ds := newTestDataset(t)
	obj := newCounter("count", 9)
	src := NewStaticSource(ds, obj)
	mod := newResetModifier(ds)

	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)
	assert.Equal(t, "Counters", mod.OperateOn(), "first applicable delegate is chosen on insertion")

	st := evaluateAt(t, app, 0)
	assert.Equal(t, 0, counterValue(t, st, "count"))
	assert.Equal(t, 9, obj.Value)
	assert.Equal(t, "counters reset", st.Status().Text)
}

func TestDelegatingModifierFailsOnMissingData(t *testing.T) {
	ds := newTestDataset(t)
	src := NewStaticSource(ds, &label{Text: "x"})
	mod := newResetModifier(ds)
	require.NoError(t, mod.SetOperateOn("Counters"))

	app := NewModifierApplication(ds)
	require.NoError(t, app.SetInput(src))
	require.NoError(t, app.SetModifier(mod))

	st := evaluateAt(t, app, 0)
	assert.True(t, st.Status().IsError())
	assert.Equal(t,
		"Modifier 'Reset' reported: The modifier's pipeline input does not contain the expected kind of data.",
		st.Status().Text)
}

func TestDelegateChangeInvalidatesApplication(t *testing.T) {
	ds := newTestDataset(t)
	src := NewStaticSource(ds, newCounter("count", 9))
	mod := newResetModifier(ds)
	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	evaluateAt(t, app, 0)
	mod.Delegate().SetEnabled(false)
	assert.Equal(t, CacheEmpty, app.Cache().State())
	assert.Equal(t, 9, counterValue(t, evaluateAt(t, app, 0), "count"))
}

func TestMultiDelegatingModifierSkipsInapplicableDelegates(t *testing.T) {
	ds := newTestDataset(t)
	src := NewStaticSource(ds, newCounter("count", 4))
	mod := newResetAllModifier(ds)
	require.Len(t, mod.Delegates(), 2)

	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	st := evaluateAt(t, app, 0)
	assert.Equal(t, 0, counterValue(t, st, "count"))
	assert.Equal(t, flowstate.NewStatus(flowstate.StatusWarning, "counters reset"), st.Status())
}

func TestMultiDelegatingModifierMergesStatuses(t *testing.T) {
	ds := newTestDataset(t)
	src := NewStaticSource(ds, newCounter("count", 4), &label{Text: "x"})
	mod := newResetAllModifier(ds)
	app, err := Apply(context.Background(), ds, mod, src)
	require.NoError(t, err)

	st := evaluateAt(t, app, 0)
	assert.Equal(t, flowstate.StatusWarning, st.Status().Type)
	assert.Equal(t, "counters reset\nlabels cleared", st.Status().Text)

	d, ok := mod.DelegateFor("labels")
	require.True(t, ok)
	d.SetEnabled(false)
	st = evaluateAt(t, app, 0)
	assert.Equal(t, "counters reset", st.Status().Text)
}
