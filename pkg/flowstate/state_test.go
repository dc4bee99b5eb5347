package flowstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

type valueObject struct {
	ObjectBase
	values []float64
}

func newValueObject(id string, values ...float64) *valueObject {
	v := &valueObject{values: values}
	v.SetIdentifier(id)
	return v
}

func (v *valueObject) Clone(deep bool) DataObject {
	c := &valueObject{values: append([]float64(nil), v.values...)}
	c.InitClone(&v.ObjectBase)
	return c
}

type labelObject struct {
	ObjectBase
	label string
}

func (l *labelObject) Clone(deep bool) DataObject {
	c := &labelObject{label: l.label}
	c.InitClone(&l.ObjectBase)
	return c
}

func TestCopyOnWriteIsolatesStates(t *testing.T) {
	original := NewState(nil, Success, timeline.Infinite())
	obj := newValueObject("pos", 1, 2, 3)
	original.AddObject(obj)

	derived := original.Copy()
	assert.Equal(t, 2, original.Data().ShareCount())

	v := Mutable(&derived, obj)
	require.NotSame(t, obj, v)
	v.values[0] = 42

	assert.Equal(t, 1.0, obj.values[0])
	got, ok := GetObject[*valueObject](derived)
	require.True(t, ok)
	assert.Equal(t, 42.0, got.values[0])
	assert.NotSame(t, original.Data(), derived.Data())
}

func TestCloneObjectsIfNeededIsIdempotent(t *testing.T) {
	base := NewState(nil, Success, timeline.Infinite())
	base.AddObject(newValueObject("a", 1))
	base.AddObject(&labelObject{label: "x"})

	st := base.Copy()
	st.CloneObjectsIfNeeded(false)
	first := st.Objects()
	for _, o := range first {
		assert.Equal(t, 1, ShareCountOf(o))
	}

	st.CloneObjectsIfNeeded(false)
	second := st.Objects()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Same(t, first[i], second[i])
	}

	first[0].(*valueObject).values[0] = 7
	orig, _ := GetObject[*valueObject](base)
	assert.Equal(t, 1.0, orig.values[0])
}

func TestUnsharedStateMutatesInPlace(t *testing.T) {
	st := NewState(nil, Success, timeline.Infinite())
	obj := newValueObject("a", 1)
	st.AddObject(obj)
	data := st.Data()

	assert.Same(t, obj, st.MakeMutable(obj))
	assert.Same(t, data, st.MutableData())
}

func TestReleaseReturnsShares(t *testing.T) {
	st := NewState(nil, Success, timeline.Infinite())
	obj := newValueObject("a", 1)
	st.AddObject(obj)

	cp := st.Copy()
	data := cp.MutableData()
	assert.Equal(t, 2, obj.ShareCount())

	cp.Release()
	assert.Equal(t, 0, data.ShareCount())
	assert.Equal(t, 1, obj.ShareCount())
	assert.True(t, cp.IsEmpty())
}

func TestGetObjectByIdentifier(t *testing.T) {
	st := NewState(nil, Success, timeline.Infinite())
	st.AddObject(newValueObject("first", 1))
	st.AddObject(newValueObject("second", 2))

	got, ok := GetObject[*valueObject](st, "second")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.values[0])

	_, ok = GetObject[*valueObject](st, "third")
	assert.False(t, ok)
	assert.Equal(t, 2, CountObjects[*valueObject](st))

	_, err := ExpectObject[*labelObject](st)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrMissingDataObject)
}

func TestValidityNarrowsOnly(t *testing.T) {
	st := EmptyState(Success, timeline.Interval(0, 100))
	st.IntersectStateValidity(timeline.Interval(50, 200))
	assert.Equal(t, timeline.Interval(50, 100), st.StateValidity())

	st.IntersectStateValidity(timeline.Instant(70))
	assert.Equal(t, timeline.Instant(70), st.StateValidity())
}

func TestAttributesAreCopiedWithState(t *testing.T) {
	st := EmptyState(Success, timeline.Infinite())
	st.SetAttribute(AttrSourceFrame, 3)

	cp := st.Copy()
	cp.SetAttribute(AttrSourceFrame, 4)

	v, ok := st.Attribute(AttrSourceFrame)
	require.True(t, ok)
	assert.Equal(t, 3, v)
	v, _ = cp.Attribute(AttrSourceFrame)
	assert.Equal(t, 4, v)
}

func TestStatusMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b Status
		want Status
	}{
		{"success takes other", Success, NewStatus(StatusWarning, "w"), NewStatus(StatusWarning, "w")},
		{"error overrides warning", NewStatus(StatusWarning, "w"), NewStatus(StatusError, "e"), NewStatus(StatusError, "w\ne")},
		{"warning keeps error", NewStatus(StatusError, "e"), NewStatus(StatusWarning, "w"), NewStatus(StatusError, "e\nw")},
		{"success with text", Success, Success, Success},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Merge(tt.b))
		})
	}
}
