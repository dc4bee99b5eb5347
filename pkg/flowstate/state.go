package flowstate

import (
	"fmt"
	"maps"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// Well-known attribute keys.
const (
	AttrSourceFrame = "SourceFrame"
	AttrSourceFile  = "SourceFile"
)

// PipelineFlowState is the result of evaluating a pipeline stage.
//
// A state value owns one share of its data collection. Copy creates another
// owner, Release drops one. States received from a future or a cache are
// borrowed: call Copy before modifying them. Plain assignment moves ownership.
type PipelineFlowState struct {
	data     *DataCollection
	status   Status
	validity timeline.TimeInterval
	attrs    map[string]any
}

// NewState creates a state holding a share of data.
func NewState(data *DataCollection, status Status, validity timeline.TimeInterval) PipelineFlowState {
	if data != nil {
		data.retain()
	}
	return PipelineFlowState{data: data, status: status, validity: validity}
}

// EmptyState returns a state without data.
func EmptyState(status Status, validity timeline.TimeInterval) PipelineFlowState {
	return PipelineFlowState{status: status, validity: validity}
}

// Copy returns an additional owner of the same data.
func (s PipelineFlowState) Copy() PipelineFlowState {
	cp := s
	if s.data != nil {
		s.data.retain()
	}
	if s.attrs != nil {
		cp.attrs = maps.Clone(s.attrs)
	}
	return cp
}

// Release gives up this state's share of the data collection.
func (s *PipelineFlowState) Release() {
	if s.data != nil {
		s.data.release()
		s.data = nil
	}
}

// IsEmpty reports whether the state has no data collection.
func (s PipelineFlowState) IsEmpty() bool { return s.data == nil }

// Data returns the data collection for reading.
func (s PipelineFlowState) Data() *DataCollection { return s.data }

// Objects returns the contained data objects.
func (s PipelineFlowState) Objects() []DataObject { return s.data.Objects() }

// Status returns the status of the state.
func (s PipelineFlowState) Status() Status { return s.status }

// SetStatus replaces the status.
func (s *PipelineFlowState) SetStatus(st Status) { s.status = st }

// StateValidity returns the interval during which the state stays valid.
func (s PipelineFlowState) StateValidity() timeline.TimeInterval { return s.validity }

// SetStateValidity replaces the validity interval.
func (s *PipelineFlowState) SetStateValidity(iv timeline.TimeInterval) { s.validity = iv }

// IntersectStateValidity narrows the validity interval.
func (s *PipelineFlowState) IntersectStateValidity(iv timeline.TimeInterval) {
	s.validity = s.validity.Intersect(iv)
}

// Attribute returns a global attribute.
func (s PipelineFlowState) Attribute(key string) (any, bool) {
	v, ok := s.attrs[key]
	return v, ok
}

// SetAttribute sets a global attribute.
func (s *PipelineFlowState) SetAttribute(key string, v any) {
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	s.attrs[key] = v
}

// Attributes returns a copy of all global attributes.
func (s PipelineFlowState) Attributes() map[string]any {
	return maps.Clone(s.attrs)
}

// MutableData returns a collection that only this state holds, copying the
// current collection first if it is shared.
func (s *PipelineFlowState) MutableData() *DataCollection {
	if s.data == nil {
		s.data = NewDataCollection()
		s.data.retain()
		return s.data
	}
	if s.data.ShareCount() > 1 {
		cp := s.data.shallowCopy()
		cp.retain()
		s.data.release()
		s.data = cp
	}
	return s.data
}

// SetData replaces the data collection.
func (s *PipelineFlowState) SetData(data *DataCollection) {
	if data != nil {
		data.retain()
	}
	if s.data != nil {
		s.data.release()
	}
	s.data = data
}

// AddObject inserts obj into the state's collection.
func (s *PipelineFlowState) AddObject(obj DataObject) {
	s.MutableData().add(obj)
}

// RemoveObject removes obj from the state's collection.
func (s *PipelineFlowState) RemoveObject(obj DataObject) bool {
	if !s.data.Contains(obj) {
		return false
	}
	return s.MutableData().remove(obj)
}

// ReplaceObject substitutes repl for old, or appends repl if old is absent.
func (s *PipelineFlowState) ReplaceObject(old, repl DataObject) {
	data := s.MutableData()
	if old == nil || !data.replace(old, repl) {
		data.add(repl)
	}
}

// MakeMutable returns a version of obj that may be modified in place. A
// shared object is replaced by a shallow clone.
func (s *PipelineFlowState) MakeMutable(obj DataObject) DataObject {
	data := s.MutableData()
	if data.indexOf(obj) < 0 {
		return obj
	}
	if obj.base().IsSafeToModify() {
		return obj
	}
	clone := obj.Clone(false)
	data.replace(obj, clone)
	return clone
}

// CloneObjectsIfNeeded replaces every shared object by a clone so that all
// contained objects may be modified. Calling it again is a no-op.
func (s *PipelineFlowState) CloneObjectsIfNeeded(deep bool) {
	if s.data == nil {
		return
	}
	data := s.MutableData()
	for _, obj := range data.Objects() {
		if !obj.base().IsSafeToModify() {
			data.replace(obj, obj.Clone(deep))
		}
	}
}

// Mutable is the typed form of MakeMutable.
func Mutable[T DataObject](s *PipelineFlowState, obj T) T {
	return s.MakeMutable(obj).(T)
}

// GetObject returns the first object of type T, optionally restricted to
// the given identifier.
func GetObject[T DataObject](s PipelineFlowState, identifier ...string) (T, bool) {
	for _, o := range s.data.Objects() {
		t, ok := o.(T)
		if !ok {
			continue
		}
		if len(identifier) > 0 && identifier[0] != "" && o.Identifier() != identifier[0] {
			continue
		}
		return t, true
	}
	var zero T
	return zero, false
}

// ExpectObject is like GetObject but fails when no object is found.
func ExpectObject[T DataObject](s PipelineFlowState, identifier ...string) (T, error) {
	if t, ok := GetObject[T](s, identifier...); ok {
		return t, nil
	}
	var zero T
	return zero, perrors.NewError(perrors.CodeValidation,
		fmt.Sprintf("pipeline state contains no %T object", zero), perrors.ErrMissingDataObject)
}

// CountObjects returns the number of objects of type T.
func CountObjects[T DataObject](s PipelineFlowState) int {
	n := 0
	for _, o := range s.data.Objects() {
		if _, ok := o.(T); ok {
			n++
		}
	}
	return n
}
