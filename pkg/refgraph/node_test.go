package refgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

var testFields = []FieldDescriptor{
	{Name: "child"},
	{Name: "items", Vector: true},
	{Name: "owned", Clone: CloneAlways},
	{Name: "shared", Clone: CloneNever},
	{Name: "quiet", NoPropagation: true},
}

type testNode struct {
	Node
	name    string
	events  []Event
	onEvent func(source Object, ev Event)
	deleted bool
}

func newTestNode(name string) *testNode {
	n := &testNode{name: name}
	n.Init(n, testFields...)
	return n
}

func (t *testNode) ReferenceEvent(source Object, ev Event) bool {
	t.events = append(t.events, ev)
	if t.onEvent != nil {
		t.onEvent(source, ev)
	}
	return t.Node.ReferenceEvent(source, ev)
}

func (t *testNode) CopyObject() Object {
	return newTestNode(t.name + "-copy")
}

func (t *testNode) AboutToBeDeleted() {
	t.deleted = true
}

func (t *testNode) countEvents(kind EventKind) int {
	n := 0
	for _, ev := range t.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestSetLinkMaintainsDependents(t *testing.T) {
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")

	require.NoError(t, a.SetLink("child", b))
	assert.Same(t, b, a.Link("child"))
	assert.Len(t, b.Dependents(), 1)
	assert.Equal(t, 1, b.ReferenceCount())

	require.NoError(t, a.SetLink("child", c))
	assert.Empty(t, b.Dependents())
	assert.Len(t, c.Dependents(), 1)
	assert.False(t, b.IsAlive())
}

func TestCycleRejection(t *testing.T) {
	tests := []struct {
		name  string
		build func() (maker, target *testNode)
	}{
		{
			name: "self link",
			build: func() (*testNode, *testNode) {
				a := newTestNode("a")
				return a, a
			},
		},
		{
			name: "direct cycle",
			build: func() (*testNode, *testNode) {
				a, b := newTestNode("a"), newTestNode("b")
				require.NoError(t, a.SetLink("child", b))
				return b, a
			},
		},
		{
			name: "transitive cycle",
			build: func() (*testNode, *testNode) {
				a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
				require.NoError(t, a.SetLink("child", b))
				require.NoError(t, b.InsertLink("items", -1, c))
				return c, a
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, target := tt.build()
			before := len(target.Dependents())

			err := maker.SetLink("child", target)
			require.Error(t, err)
			assert.True(t, perrors.IsCyclicReference(err))
			assert.Nil(t, maker.Link("child"))
			assert.Len(t, target.Dependents(), before)

			err = maker.InsertLink("items", -1, target)
			assert.True(t, perrors.IsCyclicReference(err))
			assert.Empty(t, maker.Links("items"))
		})
	}
}

func TestNotificationPropagatesOneHopAtATime(t *testing.T) {
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
	require.NoError(t, a.SetLink("child", b))
	require.NoError(t, b.SetLink("child", c))
	a.events, b.events = nil, nil

	c.NotifyDependents(TargetChangedEvent(timeline.Interval(0, 10)))

	require.Equal(t, 1, b.countEvents(TargetChanged))
	require.Equal(t, 1, a.countEvents(TargetChanged))
	last := a.events[len(a.events)-1]
	assert.Same(t, c, last.Sender)
	assert.Equal(t, timeline.Interval(0, 10), last.Unchanged)

	c.NotifyDependents(NewEvent(TitleChanged))
	assert.Equal(t, 1, b.countEvents(TitleChanged))
	assert.Equal(t, 0, a.countEvents(TitleChanged))
}

func TestNoPropagationField(t *testing.T) {
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
	require.NoError(t, a.SetLink("child", b))
	require.NoError(t, b.SetLink("quiet", c))
	a.events = nil

	c.NotifyTargetChanged()

	assert.Equal(t, 1, b.countEvents(TargetChanged))
	assert.Equal(t, 0, a.countEvents(TargetChanged))
}

func TestDependentsDetachingDuringBroadcast(t *testing.T) {
	target := newTestNode("target")
	Retain(target)
	makers := []*testNode{newTestNode("x"), newTestNode("y"), newTestNode("z")}
	for _, m := range makers {
		require.NoError(t, m.SetLink("child", target))
		m.events = nil
		m.onEvent = func(source Object, ev Event) {
			if ev.Kind == TargetChanged {
				_ = m.SetLink("child", nil)
			}
		}
	}

	target.NotifyTargetChanged()

	for _, m := range makers {
		assert.Equal(t, 1, m.countEvents(TargetChanged), m.name)
		assert.Nil(t, m.Link("child"))
	}
	assert.Empty(t, target.Dependents())
	assert.True(t, target.IsAlive())
}

func TestDeleteObjectClearsDependentLinks(t *testing.T) {
	target := newTestNode("target")
	a, b := newTestNode("a"), newTestNode("b")
	require.NoError(t, a.SetLink("child", target))
	require.NoError(t, b.InsertLink("items", -1, target))
	require.NoError(t, b.InsertLink("items", -1, newTestNode("other")))

	target.DeleteObject()

	assert.Nil(t, a.Link("child"))
	assert.Len(t, b.Links("items"), 1)
	assert.Empty(t, target.Dependents())
	assert.False(t, target.IsAlive())
	assert.True(t, target.deleted)
	assert.Equal(t, 1, a.countEvents(TargetDeleted))
}

func TestReleaseDestroysAndClearsOwnLinks(t *testing.T) {
	owner := newTestNode("owner")
	mid := newTestNode("mid")
	leaf := newTestNode("leaf")
	require.NoError(t, owner.SetLink("child", mid))
	require.NoError(t, mid.SetLink("child", leaf))

	require.NoError(t, owner.SetLink("child", nil))

	assert.False(t, mid.IsAlive())
	assert.True(t, mid.deleted)
	assert.Empty(t, leaf.Dependents())
	assert.False(t, leaf.IsAlive())
}

func TestRetainKeepsObjectAlive(t *testing.T) {
	owner := newTestNode("owner")
	mid := newTestNode("mid")
	Retain(mid)
	require.NoError(t, owner.SetLink("child", mid))
	require.NoError(t, owner.SetLink("child", nil))
	assert.True(t, mid.IsAlive())

	Release(mid)
	assert.False(t, mid.IsAlive())
}

func TestVectorLinkEvents(t *testing.T) {
	listener := newTestNode("listener")
	maker := newTestNode("maker")
	require.NoError(t, listener.SetLink("child", maker))
	listener.events = nil

	first, second := newTestNode("first"), newTestNode("second")
	require.NoError(t, maker.InsertLink("items", -1, first))
	require.NoError(t, maker.InsertLink("items", 0, second))
	assert.Equal(t, []Object{second, first}, maker.Links("items"))
	assert.Equal(t, 2, listener.countEvents(ReferenceAdded))

	maker.RemoveLink("items", 0)
	assert.Equal(t, []Object{first}, maker.Links("items"))
	assert.Equal(t, 1, listener.countEvents(ReferenceRemoved))
	assert.False(t, second.IsAlive())
}

func TestReplaceReferencesTo(t *testing.T) {
	maker := newTestNode("maker")
	oldT, newT := newTestNode("old"), newTestNode("new")
	Retain(oldT)
	require.NoError(t, maker.SetLink("child", oldT))
	require.NoError(t, maker.InsertLink("items", -1, oldT))

	require.NoError(t, maker.ReplaceReferencesTo(oldT, newT))

	assert.Same(t, newT, maker.Link("child"))
	assert.Equal(t, []Object{newT}, maker.Links("items"))
	assert.Empty(t, oldT.Dependents())
	assert.Equal(t, 2, newT.ReferenceCount())
}

func TestClonePolicies(t *testing.T) {
	src := newTestNode("src")
	child, owned, shared := newTestNode("child"), newTestNode("owned"), newTestNode("shared")
	require.NoError(t, src.SetLink("child", child))
	require.NoError(t, src.SetLink("owned", owned))
	require.NoError(t, src.SetLink("shared", shared))
	require.NoError(t, src.InsertLink("items", -1, child))

	shallow, err := Clone(src, false)
	require.NoError(t, err)
	s := shallow.(*testNode)
	assert.Equal(t, "src-copy", s.name)
	assert.Same(t, child, s.Link("child"))
	assert.NotSame(t, owned, s.Link("owned"))
	assert.Same(t, shared, s.Link("shared"))

	deep, err := Clone(src, true)
	require.NoError(t, err)
	d := deep.(*testNode)
	assert.NotSame(t, child, d.Link("child"))
	assert.Same(t, shared, d.Link("shared"))
	// The same target reached through two fields is cloned once.
	assert.Same(t, d.Link("child"), d.Links("items")[0])
}
