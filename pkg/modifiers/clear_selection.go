// Package modifiers implements the particle modifiers: clearing the
// selection, affine transformations and computed properties.
package modifiers

import (
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// Modifier kinds under which delegates are registered.
const (
	ClearSelectionKind       = "ClearSelection"
	AffineTransformationKind = "AffineTransformation"
	ComputePropertyKind      = "ComputeProperty"
)

// Operate-on keys of the delegates.
const (
	ParticlesKey = "Particles"
	BondsKey     = "Bonds"
	CellKey      = "SimulationCell"
)

// RegisterDelegates adds the delegates of all modifiers in this package to
// the registry. Registering twice is harmless.
func RegisterDelegates(r *pipeline.DelegateRegistry) {
	r.Register(ClearSelectionKind, ParticlesKey, func() pipeline.ModifierDelegate {
		return newClearSelectionDelegate(ParticlesKey, "Particles", particleContainer)
	})
	r.Register(ClearSelectionKind, BondsKey, func() pipeline.ModifierDelegate {
		return newClearSelectionDelegate(BondsKey, "Bonds", bondContainer)
	})
	r.Register(AffineTransformationKind, ParticlesKey, newTransformParticles)
	r.Register(AffineTransformationKind, CellKey, newTransformCell)
	r.Register(ComputePropertyKind, ParticlesKey, func() pipeline.ModifierDelegate {
		return newComputeDelegate(ParticlesKey, "Particles", "ParticleIndex", particleContainer)
	})
	r.Register(ComputePropertyKind, BondsKey, func() pipeline.ModifierDelegate {
		return newComputeDelegate(BondsKey, "Bonds", "BondIndex", bondContainer)
	})
}

// containerAccess finds the property container a delegate works on. With a
// non-nil mutable state it returns a version that may be modified.
type containerAccess func(st flowstate.PipelineFlowState, mutable *flowstate.PipelineFlowState) *particles.PropertyContainer

func particleContainer(st flowstate.PipelineFlowState, mutable *flowstate.PipelineFlowState) *particles.PropertyContainer {
	p, ok := flowstate.GetObject[*particles.Particles](st)
	if !ok {
		return nil
	}
	if mutable != nil {
		p = flowstate.Mutable(mutable, p)
	}
	return &p.PropertyContainer
}

func bondContainer(st flowstate.PipelineFlowState, mutable *flowstate.PipelineFlowState) *particles.PropertyContainer {
	b, ok := flowstate.GetObject[*particles.Bonds](st)
	if !ok {
		return nil
	}
	if mutable != nil {
		b = flowstate.Mutable(mutable, b)
	}
	return &b.PropertyContainer
}

// ClearSelectionModifier deletes the Selection property of particles or bonds.
type ClearSelectionModifier struct {
	pipeline.DelegatingModifier
}

// NewClearSelectionModifier creates the modifier operating on particles.
func NewClearSelectionModifier(ds *pipeline.Dataset) *ClearSelectionModifier {
	RegisterDelegates(ds.Delegates())
	m := &ClearSelectionModifier{}
	m.InitDelegatingModifier(m, ds, ClearSelectionKind)
	_ = m.SetOperateOn(ParticlesKey)
	return m
}

type clearSelectionDelegate struct {
	pipeline.DelegateBase
	access containerAccess
}

func newClearSelectionDelegate(key, name string, access containerAccess) *clearSelectionDelegate {
	d := &clearSelectionDelegate{access: access}
	d.InitDelegate(d, key, name)
	return d
}

func (d *clearSelectionDelegate) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return d.access(st, nil) != nil
}

func (d *clearSelectionDelegate) Apply(_ pipeline.Modifier, st *flowstate.PipelineFlowState, _ timeline.TimePoint, _ pipeline.ModifierApplicationObject) (flowstate.Status, error) {
	if c := d.access(*st, nil); c == nil || c.Property(particles.SelectionProperty) == nil {
		return flowstate.Success, nil
	}
	d.access(*st, st).RemoveProperty(particles.SelectionProperty)
	return flowstate.Success, nil
}
