// Package flowstate holds the values that travel through a pipeline: data
// objects, the data collection grouping them, and PipelineFlowState which adds
// a validity interval, a status and an attribute map.
//
// Sharing is tracked with explicit share counts. A data collection or data
// object with more than one holder must be cloned before it is modified.
package flowstate

import (
	"slices"
	"sync/atomic"

	"github.com/wehubfusion/Helios/pkg/refgraph"
)

// DataObject is a typed payload stored in a DataCollection. Implementations
// embed ObjectBase.
type DataObject interface {
	Identifier() string
	// Clone returns an unshared copy. Deep copies duplicate nested payloads
	// that a shallow copy may share.
	Clone(deep bool) DataObject
	base() *ObjectBase
}

// ObjectBase carries the identifier and share count of a data object.
type ObjectBase struct {
	identifier string
	shares     atomic.Int32
}

// Identifier returns the string identifier of the object, which may be empty.
func (b *ObjectBase) Identifier() string { return b.identifier }

// SetIdentifier assigns the string identifier.
func (b *ObjectBase) SetIdentifier(id string) { b.identifier = id }

// ShareCount returns the number of data collections holding the object.
func (b *ObjectBase) ShareCount() int { return int(b.shares.Load()) }

// IsSafeToModify reports whether at most one collection holds the object.
func (b *ObjectBase) IsSafeToModify() bool { return b.shares.Load() <= 1 }

// InitClone prepares the base of a fresh copy of src.
func (b *ObjectBase) InitClone(src *ObjectBase) {
	b.identifier = src.identifier
	b.shares.Store(0)
}

func (b *ObjectBase) base() *ObjectBase { return b }

// ShareCountOf returns the share count of any data object.
func ShareCountOf(obj DataObject) int {
	return obj.base().ShareCount()
}

// DataCollection is an ordered set of data objects. A collection referenced
// by several states is shared and gets copied before modification.
type DataCollection struct {
	refgraph.Node

	shares  atomic.Int32
	objects []DataObject
}

// NewDataCollection creates an empty, unowned collection.
func NewDataCollection() *DataCollection {
	c := &DataCollection{}
	c.Init(c)
	return c
}

// Objects returns the contained objects in insertion order.
func (c *DataCollection) Objects() []DataObject {
	if c == nil {
		return nil
	}
	return slices.Clone(c.objects)
}

// Len returns the number of objects.
func (c *DataCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.objects)
}

// Contains reports whether obj is part of the collection.
func (c *DataCollection) Contains(obj DataObject) bool {
	return c.indexOf(obj) >= 0
}

// ShareCount returns the number of states holding the collection.
func (c *DataCollection) ShareCount() int { return int(c.shares.Load()) }

func (c *DataCollection) indexOf(obj DataObject) int {
	if c == nil || obj == nil {
		return -1
	}
	for i, o := range c.objects {
		if o.base() == obj.base() {
			return i
		}
	}
	return -1
}

func (c *DataCollection) add(obj DataObject) {
	if c.indexOf(obj) >= 0 {
		return
	}
	obj.base().shares.Add(1)
	c.objects = append(c.objects, obj)
}

func (c *DataCollection) remove(obj DataObject) bool {
	i := c.indexOf(obj)
	if i < 0 {
		return false
	}
	c.objects = slices.Delete(c.objects, i, i+1)
	obj.base().shares.Add(-1)
	return true
}

func (c *DataCollection) replace(old, repl DataObject) bool {
	i := c.indexOf(old)
	if i < 0 {
		return false
	}
	repl.base().shares.Add(1)
	c.objects[i] = repl
	old.base().shares.Add(-1)
	return true
}

// shallowCopy returns a new collection sharing every object with c.
func (c *DataCollection) shallowCopy() *DataCollection {
	cp := NewDataCollection()
	for _, o := range c.objects {
		cp.add(o)
	}
	return cp
}

func (c *DataCollection) retain() {
	c.shares.Add(1)
}

func (c *DataCollection) release() {
	if c.shares.Add(-1) == 0 {
		for _, o := range c.objects {
			o.base().shares.Add(-1)
		}
	}
}
