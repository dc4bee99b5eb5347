// Package particles holds the data objects a particle pipeline works on:
// property containers for particles and bonds and the simulation cell.
package particles

import (
	"fmt"
	"slices"
)

// Standard property names.
const (
	PositionProperty   = "Position"
	SelectionProperty  = "Selection"
	ColorProperty      = "Color"
	TypeProperty       = "Particle Type"
	IdentifierProperty = "Particle Identifier"
	TopologyProperty   = "Topology"
)

// DataType is the kind of values a property stores.
type DataType int

const (
	Float DataType = iota
	Int
)

func (t DataType) String() string {
	if t == Int {
		return "int"
	}
	return "float"
}

// Property is a named per-element array with one or more components.
// Values are stored as float64 regardless of the data type; integer
// properties hold whole numbers.
type Property struct {
	name       string
	dataType   DataType
	components []string
	count      int
	data       []float64
	types      []string
}

// NewProperty creates a zero-filled property for count elements. Passing no
// component names creates a scalar property.
func NewProperty(name string, dataType DataType, count int, components ...string) *Property {
	width := len(components)
	if width == 0 {
		width = 1
	}
	return &Property{
		name:       name,
		dataType:   dataType,
		components: slices.Clone(components),
		count:      count,
		data:       make([]float64, count*width),
	}
}

// StandardProperty creates one of the standard properties with its usual
// components and data type.
func StandardProperty(name string, count int) *Property {
	switch name {
	case PositionProperty:
		return NewProperty(name, Float, count, "X", "Y", "Z")
	case ColorProperty:
		return NewProperty(name, Float, count, "R", "G", "B")
	case SelectionProperty, TypeProperty, IdentifierProperty:
		return NewProperty(name, Int, count)
	case TopologyProperty:
		return NewProperty(name, Int, count, "A", "B")
	default:
		return NewProperty(name, Float, count)
	}
}

func (p *Property) Name() string             { return p.name }
func (p *Property) DataType() DataType       { return p.dataType }
func (p *Property) Count() int               { return p.count }
func (p *Property) ComponentNames() []string { return slices.Clone(p.components) }

// ComponentCount returns the number of values per element.
func (p *Property) ComponentCount() int {
	if len(p.components) == 0 {
		return 1
	}
	return len(p.components)
}

// Value returns component c of element i.
func (p *Property) Value(i, c int) float64 {
	return p.data[i*p.ComponentCount()+c]
}

// SetValue sets component c of element i.
func (p *Property) SetValue(i, c int, v float64) {
	p.data[i*p.ComponentCount()+c] = v
}

// Element returns all components of element i.
func (p *Property) Element(i int) []float64 {
	n := p.ComponentCount()
	return slices.Clone(p.data[i*n : (i+1)*n])
}

// Values returns the backing array, laid out element by element.
func (p *Property) Values() []float64 { return p.data }

// Fill sets every value to v.
func (p *Property) Fill(v float64) {
	for i := range p.data {
		p.data[i] = v
	}
}

// Resize changes the element count, keeping existing values and zeroing
// new ones.
func (p *Property) Resize(count int) {
	n := count * p.ComponentCount()
	if n <= len(p.data) {
		p.data = p.data[:n]
	} else {
		p.data = append(p.data, make([]float64, n-len(p.data))...)
	}
	p.count = count
}

// Types returns the names of the element types an integer property refers to.
func (p *Property) Types() []string { return slices.Clone(p.types) }

// AddType registers a named element type and returns its numeric id. Type
// ids start at 1; a known name returns its existing id.
func (p *Property) AddType(name string) int {
	if i := slices.Index(p.types, name); i >= 0 {
		return i + 1
	}
	p.types = append(p.types, name)
	return len(p.types)
}

// SetTypes replaces the list of type names. Name i has id i+1.
func (p *Property) SetTypes(names []string) { p.types = slices.Clone(names) }

// TypeName returns the name of type id, or the id itself for unnamed types.
func (p *Property) TypeName(id int) string {
	if id >= 1 && id <= len(p.types) {
		return p.types[id-1]
	}
	return fmt.Sprint(id)
}

// Clone returns an independent copy.
func (p *Property) Clone() *Property {
	cp := *p
	cp.components = slices.Clone(p.components)
	cp.data = slices.Clone(p.data)
	cp.types = slices.Clone(p.types)
	return &cp
}
