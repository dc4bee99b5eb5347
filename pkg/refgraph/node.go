// Package refgraph implements the reference-counted object graph that connects
// pipeline stages. Makers hold typed links to targets; every target keeps a
// non-owning list of its dependents so that change notifications can travel
// from upstream to downstream objects.
//
// All graph mutation and notification happens on the owning goroutine of the
// dataset. The package takes no locks.
package refgraph

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
)

// ClonePolicy selects how Clone treats the target of a link field.
type ClonePolicy int

const (
	// CloneShare shares the target with the copy unless a deep copy was requested.
	CloneShare ClonePolicy = iota
	// CloneNever always shares the target, even for deep copies.
	CloneNever
	// CloneAlways copies the target even for shallow copies.
	CloneAlways
	// CloneDeep always deep-copies the target.
	CloneDeep
)

// FieldDescriptor describes one reference field of a node type.
type FieldDescriptor struct {
	Name   string
	Vector bool
	Clone  ClonePolicy

	// NoPropagation stops events from targets in this field from being
	// forwarded to the maker's own dependents.
	NoPropagation bool
}

// Object is implemented by every graph node. Types embed Node to satisfy it.
type Object interface {
	Base() *Node
}

// EventHandler receives notifications from targets. Node provides the
// default implementation; types override it and call the embedded version.
type EventHandler interface {
	ReferenceEvent(source Object, ev Event) bool
}

// ReferenceReplacedHandler is invoked after a single-valued link changed.
type ReferenceReplacedHandler interface {
	ReferenceReplaced(field string, oldTarget, newTarget Object)
}

// ReferenceInsertedHandler is invoked after a target was inserted into a vector link.
type ReferenceInsertedHandler interface {
	ReferenceInserted(field string, target Object, index int)
}

// ReferenceRemovedHandler is invoked after a target was removed from a vector link.
type ReferenceRemovedHandler interface {
	ReferenceRemoved(field string, target Object, index int)
}

// Deleter is invoked once the reference count of a node drops to zero.
type Deleter interface {
	AboutToBeDeleted()
}

// Node is the graph vertex embedded by all pipeline objects.
type Node struct {
	id         uuid.UUID
	self       Object
	fields     []FieldDescriptor
	single     map[string]Object
	vector     map[string][]Object
	dependents []Object
	refCount   int
	dead       bool
}

// Init binds the node to the outer object and declares reference fields.
// It may be called repeatedly along an embedding chain; later calls replace
// self and append their fields.
func (n *Node) Init(self Object, fields ...FieldDescriptor) {
	if n.id == uuid.Nil {
		n.id = uuid.New()
		n.single = make(map[string]Object)
		n.vector = make(map[string][]Object)
	}
	n.self = self
	for _, f := range fields {
		if _, ok := n.descriptor(f.Name); ok {
			continue
		}
		n.fields = append(n.fields, f)
	}
}

// Base returns the node itself.
func (n *Node) Base() *Node { return n }

// ID returns the unique identifier of the node.
func (n *Node) ID() uuid.UUID { return n.id }

// Self returns the outer object the node is embedded in.
func (n *Node) Self() Object {
	if n.self == nil {
		return n
	}
	return n.self
}

// Fields returns the reference field descriptors of the node.
func (n *Node) Fields() []FieldDescriptor {
	return slices.Clone(n.fields)
}

// IsAlive reports whether the node has not been destroyed yet.
func (n *Node) IsAlive() bool { return !n.dead }

// ReferenceCount returns the number of strong owners of the node.
func (n *Node) ReferenceCount() int { return n.refCount }

// Dependents returns a snapshot of the makers referencing this node.
func (n *Node) Dependents() []Object {
	return slices.Clone(n.dependents)
}

func (n *Node) descriptor(name string) (FieldDescriptor, bool) {
	for _, f := range n.fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

func (n *Node) mustField(name string, vector bool) FieldDescriptor {
	f, ok := n.descriptor(name)
	if !ok {
		panic(fmt.Sprintf("refgraph: %T has no reference field %q", n.Self(), name))
	}
	if f.Vector != vector {
		panic(fmt.Sprintf("refgraph: field %q of %T has wrong cardinality", name, n.Self()))
	}
	return f
}

// Retain registers an additional strong owner.
func Retain(obj Object) {
	if obj == nil {
		return
	}
	obj.Base().refCount++
}

// Release drops a strong owner. The node is destroyed when no owner is left.
func Release(obj Object) {
	if obj == nil {
		return
	}
	n := obj.Base()
	if n.refCount <= 0 {
		return
	}
	n.refCount--
	if n.refCount == 0 {
		n.destroy()
	}
}

func (n *Node) destroy() {
	if n.dead {
		return
	}
	if d, ok := n.Self().(Deleter); ok {
		d.AboutToBeDeleted()
	}
	n.NotifyDependents(NewEvent(TargetDeleted))
	n.ClearAllReferences()
	n.dead = true
}

// DeleteObject asks all dependents to drop their links to this node.
// The node is destroyed once the last owner has released it.
func (n *Node) DeleteObject() {
	if n.dead {
		return
	}
	n.refCount++
	n.NotifyDependents(NewEvent(TargetDeleted))
	if len(n.dependents) != 0 {
		panic(fmt.Sprintf("refgraph: %T still has %d dependents after deletion notice", n.Self(), len(n.dependents)))
	}
	n.refCount--
	if n.refCount <= 0 {
		n.refCount = 0
		n.destroy()
	}
}

// IsReferencedBy reports whether obj depends on this node directly or transitively.
func (n *Node) IsReferencedBy(obj Object) bool {
	if obj == nil {
		return false
	}
	visited := make(map[*Node]bool)
	var walk func(*Node) bool
	walk = func(cur *Node) bool {
		for _, dep := range cur.dependents {
			d := dep.Base()
			if d == obj.Base() {
				return true
			}
			if visited[d] {
				continue
			}
			visited[d] = true
			if walk(d) {
				return true
			}
		}
		return false
	}
	return walk(n)
}

func (n *Node) checkCycle(target Object) error {
	if target == nil {
		return nil
	}
	if target.Base() == n || n.IsReferencedBy(target) {
		return perrors.NewError(perrors.CodeCyclicReference,
			fmt.Sprintf("linking %T to %T would create a cycle", n.Self(), target.Base().Self()),
			perrors.ErrCyclicReference)
	}
	return nil
}

// Link returns the target of a single-valued reference field.
func (n *Node) Link(field string) Object {
	n.mustField(field, false)
	return n.single[field]
}

// Links returns a copy of the targets of a vector reference field.
func (n *Node) Links(field string) []Object {
	n.mustField(field, true)
	return slices.Clone(n.vector[field])
}

// HasReferenceTo reports whether any reference field points to target.
func (n *Node) HasReferenceTo(target Object) bool {
	if target == nil {
		return false
	}
	for _, f := range n.fields {
		if f.Vector {
			for _, t := range n.vector[f.Name] {
				if t != nil && t.Base() == target.Base() {
					return true
				}
			}
		} else if t := n.single[f.Name]; t != nil && t.Base() == target.Base() {
			return true
		}
	}
	return false
}

// SetLink replaces the target of a single-valued reference field.
// It fails with ErrCyclicReference if target already depends on this node.
func (n *Node) SetLink(field string, target Object) error {
	n.mustField(field, false)
	if n.dead {
		return perrors.ErrObjectDeleted
	}
	if err := n.checkCycle(target); err != nil {
		return err
	}
	old := n.single[field]
	if sameObject(old, target) {
		return nil
	}
	n.setSingleInternal(field, old, target)

	if h, ok := n.Self().(ReferenceReplacedHandler); ok {
		h.ReferenceReplaced(field, old, target)
	}
	ev := NewEvent(ReferenceChanged)
	ev.Field = field
	ev.OldTarget = old
	ev.NewTarget = target
	n.NotifyDependents(ev)
	return nil
}

func (n *Node) setSingleInternal(field string, old, target Object) {
	if target != nil {
		n.single[field] = target
		target.Base().addDependent(n.Self())
		Retain(target)
	} else {
		delete(n.single, field)
	}
	if old != nil {
		if !n.HasReferenceTo(old) {
			old.Base().removeDependent(n.Self())
		}
		Release(old)
	}
}

// InsertLink inserts target into a vector reference field at index.
// A negative index appends.
func (n *Node) InsertLink(field string, index int, target Object) error {
	n.mustField(field, true)
	if n.dead {
		return perrors.ErrObjectDeleted
	}
	if err := n.checkCycle(target); err != nil {
		return err
	}
	list := n.vector[field]
	if index < 0 || index > len(list) {
		index = len(list)
	}
	n.vector[field] = slices.Insert(list, index, target)
	if target != nil {
		target.Base().addDependent(n.Self())
		Retain(target)
	}

	if h, ok := n.Self().(ReferenceInsertedHandler); ok {
		h.ReferenceInserted(field, target, index)
	} else {
		n.NotifyDependents(NewEvent(TargetChanged))
	}
	ev := NewEvent(ReferenceAdded)
	ev.Field = field
	ev.Index = index
	ev.NewTarget = target
	n.NotifyDependents(ev)
	return nil
}

// RemoveLink removes the entry at index from a vector reference field.
func (n *Node) RemoveLink(field string, index int) {
	n.mustField(field, true)
	list := n.vector[field]
	if index < 0 || index >= len(list) {
		panic(fmt.Sprintf("refgraph: index %d out of range for field %q", index, field))
	}
	target := list[index]
	n.vector[field] = slices.Delete(list, index, index+1)
	if target != nil {
		if !n.HasReferenceTo(target) {
			target.Base().removeDependent(n.Self())
		}
		// Keep the target alive until the notifications went out.
		defer Release(target)
	}

	if h, ok := n.Self().(ReferenceRemovedHandler); ok {
		h.ReferenceRemoved(field, target, index)
	} else {
		n.NotifyDependents(NewEvent(TargetChanged))
	}
	ev := NewEvent(ReferenceRemoved)
	ev.Field = field
	ev.Index = index
	ev.OldTarget = target
	n.NotifyDependents(ev)
}

// ClearLink resets a single field to nil or empties a vector field.
func (n *Node) ClearLink(field string) {
	f, ok := n.descriptor(field)
	if !ok {
		panic(fmt.Sprintf("refgraph: %T has no reference field %q", n.Self(), field))
	}
	if !f.Vector {
		// Clearing never creates a cycle.
		_ = n.SetLink(field, nil)
		return
	}
	for i := len(n.vector[field]) - 1; i >= 0; i-- {
		if i < len(n.vector[field]) {
			n.RemoveLink(field, i)
		}
	}
}

// ClearReferencesTo removes every link from this node to target.
func (n *Node) ClearReferencesTo(target Object) {
	if target == nil {
		return
	}
	for _, f := range n.fields {
		if f.Vector {
			for i := len(n.vector[f.Name]) - 1; i >= 0; i-- {
				if i < len(n.vector[f.Name]) && sameObject(n.vector[f.Name][i], target) {
					n.RemoveLink(f.Name, i)
				}
			}
		} else if sameObject(n.single[f.Name], target) {
			_ = n.SetLink(f.Name, nil)
		}
	}
}

// ReplaceReferencesTo redirects every link to oldTarget so that it points to newTarget.
func (n *Node) ReplaceReferencesTo(oldTarget, newTarget Object) error {
	if oldTarget == nil {
		return nil
	}
	if err := n.checkCycle(newTarget); err != nil {
		return err
	}
	for _, f := range n.fields {
		if f.Vector {
			for i := len(n.vector[f.Name]) - 1; i >= 0; i-- {
				if sameObject(n.vector[f.Name][i], oldTarget) {
					n.RemoveLink(f.Name, i)
					if err := n.InsertLink(f.Name, i, newTarget); err != nil {
						return err
					}
				}
			}
		} else if sameObject(n.single[f.Name], oldTarget) {
			if err := n.SetLink(f.Name, newTarget); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClearAllReferences drops every link held by this node.
func (n *Node) ClearAllReferences() {
	for _, f := range n.fields {
		n.ClearLink(f.Name)
	}
}

func (n *Node) addDependent(maker Object) {
	for _, d := range n.dependents {
		if d.Base() == maker.Base() {
			return
		}
	}
	n.dependents = append(n.dependents, maker)
}

func (n *Node) removeDependent(maker Object) {
	for i, d := range n.dependents {
		if d.Base() == maker.Base() {
			n.dependents = slices.Delete(n.dependents, i, i+1)
			return
		}
	}
}

// NotifyDependents delivers ev to the immediate dependents of this node.
// Dependents may detach themselves while the broadcast is running.
func (n *Node) NotifyDependents(ev Event) {
	if ev.Sender == nil {
		ev.Sender = n.Self()
	}
	if len(n.dependents) == 0 {
		return
	}

	// Keep the sender alive for the duration of the broadcast.
	n.refCount++
	for i := len(n.dependents) - 1; i >= 0; i-- {
		if i >= len(n.dependents) {
			continue
		}
		n.dependents[i].Base().handleReferenceEvent(n.Self(), ev)
	}
	n.refCount--
	if n.refCount == 0 && ev.Kind != TargetDeleted {
		n.destroy()
	}
}

// NotifyTargetChanged broadcasts a TargetChanged event that invalidates all times.
func (n *Node) NotifyTargetChanged() {
	n.NotifyDependents(NewEvent(TargetChanged))
}

func (n *Node) handleReferenceEvent(source Object, ev Event) {
	if n.dead {
		return
	}
	handler, ok := n.Self().(EventHandler)
	if !ok {
		handler = n
	}

	if ev.Kind == TargetDeleted {
		handler.ReferenceEvent(source, ev)
		n.ClearReferencesTo(ev.Sender)
		return
	}

	if !handler.ReferenceEvent(source, ev) {
		return
	}
	for i := len(n.dependents) - 1; i >= 0; i-- {
		if i >= len(n.dependents) {
			continue
		}
		n.dependents[i].Base().handleReferenceEvent(n.Self(), ev)
	}
}

// ReferenceEvent is the default event handler: it propagates events whose
// kind propagates, unless the source sits in a NoPropagation field.
func (n *Node) ReferenceEvent(source Object, ev Event) bool {
	if !ev.Kind.Propagates() {
		return false
	}
	for _, f := range n.fields {
		if !f.NoPropagation {
			continue
		}
		if f.Vector {
			for _, t := range n.vector[f.Name] {
				if sameObject(t, source) {
					return false
				}
			}
		} else if sameObject(n.single[f.Name], source) {
			return false
		}
	}
	return true
}

// ReferenceReplaced is the default link-replacement hook. It raises TargetChanged.
func (n *Node) ReferenceReplaced(field string, oldTarget, newTarget Object) {
	n.NotifyDependents(NewEvent(TargetChanged))
}

func sameObject(a, b Object) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Base() == b.Base()
}

// Same reports whether a and b denote the same graph node.
func Same(a, b Object) bool {
	return sameObject(a, b)
}
