package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := NewDataset(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ds.Close(context.Background()))
	})
	return ds
}

func evaluateAt(t *testing.T, obj PipelineObject, at timeline.TimePoint) flowstate.PipelineFlowState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := obj.Dataset().Wait(ctx, obj.Evaluate(ctx, Request{Time: at}))
	require.NoError(t, err)
	return st
}

// counter is a minimal data object holding one integer.
type counter struct {
	flowstate.ObjectBase
	Value int
}

func newCounter(id string, v int) *counter {
	c := &counter{Value: v}
	c.SetIdentifier(id)
	return c
}

func (c *counter) Clone(deep bool) flowstate.DataObject {
	cp := &counter{Value: c.Value}
	cp.InitClone(&c.ObjectBase)
	return cp
}

// label is a data object no test delegate applies to.
type label struct {
	flowstate.ObjectBase
	Text string
}

func (l *label) Clone(deep bool) flowstate.DataObject {
	cp := &label{Text: l.Text}
	cp.InitClone(&l.ObjectBase)
	return cp
}

// testSource is a caching source whose evaluations either complete at once
// or wait until the test resolves them.
type testSource struct {
	CachingPipelineObject

	calls    int
	value    int
	status   flowstate.Status
	validity timeline.TimeInterval
	err      error

	manual   bool
	ctxs     []context.Context
	promises []*future.Promise[flowstate.PipelineFlowState]
	states   []flowstate.PipelineFlowState
}

func newTestSource(ds *Dataset, value int) *testSource {
	s := &testSource{value: value, status: flowstate.Success, validity: timeline.Infinite()}
	s.InitCachingPipelineObject(s, ds)
	return s
}

func (s *testSource) EvaluateInternal(ctx context.Context, req Request) StateFuture {
	s.calls++
	s.ctxs = append(s.ctxs, ctx)
	if s.err != nil {
		return future.Failed[flowstate.PipelineFlowState](s.err)
	}
	st := flowstate.NewState(flowstate.NewDataCollection(), s.status, s.validity)
	st.AddObject(newCounter("count", s.value))
	if s.manual {
		p := future.NewPromise[flowstate.PipelineFlowState]()
		s.promises = append(s.promises, p)
		s.states = append(s.states, st)
		return p.Future()
	}
	return future.Ready(st)
}

// resolve completes the oldest manual evaluation.
func (s *testSource) resolve() {
	p, st := s.promises[0], s.states[0]
	s.promises, s.states = s.promises[1:], s.states[1:]
	p.Resolve(st)
}

// addModifier adds a constant to every counter.
type addModifier struct {
	ModifierBase
	delta  int
	status flowstate.Status
}

func newAddModifier(ds *Dataset, delta int) *addModifier {
	m := &addModifier{delta: delta, status: flowstate.Success}
	m.InitModifier(m, ds)
	return m
}

func (m *addModifier) SetDelta(d int) {
	m.delta = d
	m.ParameterChanged()
}

func (m *addModifier) EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	for _, obj := range state.Objects() {
		if c, ok := obj.(*counter); ok {
			flowstate.Mutable(state, c).Value += m.delta
		}
	}
	if m.status != flowstate.Success {
		state.SetStatus(m.status)
	}
	return nil
}

type failingModifier struct {
	ModifierBase
}

func newFailingModifier(ds *Dataset) *failingModifier {
	m := &failingModifier{}
	m.InitModifier(m, ds)
	return m
}

func (m *failingModifier) EvaluateSynchronous(timeline.TimePoint, ModifierApplicationObject, *flowstate.PipelineFlowState) error {
	return errors.New("boom")
}

func counterValue(t *testing.T, st flowstate.PipelineFlowState, id string) int {
	t.Helper()
	c, ok := flowstate.GetObject[*counter](st, id)
	require.True(t, ok, "no counter %q in state", id)
	return c.Value
}
