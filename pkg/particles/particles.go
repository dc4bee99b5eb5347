package particles

import (
	"math"

	"github.com/wehubfusion/Helios/pkg/flowstate"
)

// Particles is the property container of the particle list.
type Particles struct {
	PropertyContainer
}

// NewParticles creates a container for count particles without properties.
func NewParticles(count int) *Particles {
	p := &Particles{}
	p.count = count
	return p
}

func (p *Particles) Clone(deep bool) flowstate.DataObject {
	cp := &Particles{}
	cp.cloneFrom(&p.PropertyContainer, deep)
	return cp
}

// Positions returns the position property, or nil.
func (p *Particles) Positions() *Property { return p.Property(PositionProperty) }

// BoundingBox returns the minimum and maximum corner of all particle
// positions. It reports false if there are no positions.
func (p *Particles) BoundingBox() (lo, hi [3]float64, ok bool) {
	pos := p.Positions()
	if pos == nil || pos.Count() == 0 {
		return lo, hi, false
	}
	for c := 0; c < 3; c++ {
		lo[c], hi[c] = math.Inf(1), math.Inf(-1)
	}
	for i := 0; i < pos.Count(); i++ {
		for c := 0; c < 3; c++ {
			v := pos.Value(i, c)
			lo[c] = math.Min(lo[c], v)
			hi[c] = math.Max(hi[c], v)
		}
	}
	return lo, hi, true
}

// Bonds is the property container of the bond list. Every bond refers to
// two particles through the Topology property.
type Bonds struct {
	PropertyContainer
}

// NewBonds creates a container for count bonds with a Topology property.
func NewBonds(count int) *Bonds {
	b := &Bonds{}
	b.count = count
	b.CreateProperty(TopologyProperty)
	return b
}

func (b *Bonds) Clone(deep bool) flowstate.DataObject {
	cp := &Bonds{}
	cp.cloneFrom(&b.PropertyContainer, deep)
	return cp
}

// Pair returns the particle indices of bond i.
func (b *Bonds) Pair(i int) (int, int) {
	t := b.Property(TopologyProperty)
	return int(t.Value(i, 0)), int(t.Value(i, 1))
}
