package modifiers

import (
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

// AffineTransformationModifier applies a 3x4 matrix to particle positions
// and the simulation cell.
type AffineTransformationModifier struct {
	pipeline.MultiDelegatingModifier

	tm           particles.Matrix
	selectedOnly bool
}

// NewAffineTransformationModifier creates a modifier with the identity
// transformation. Defaults are read from the AffineTransformationModifier
// section of the user defaults.
func NewAffineTransformationModifier(ds *pipeline.Dataset) *AffineTransformationModifier {
	RegisterDelegates(ds.Delegates())
	m := &AffineTransformationModifier{tm: particles.Identity()}
	m.InitMultiDelegatingModifier(m, ds, AffineTransformationKind)
	if v, ok := ds.UserDefault().Bool("AffineTransformationModifier", "selectionOnly"); ok {
		m.selectedOnly = v
	}
	return m
}

// Transformation returns the matrix.
func (m *AffineTransformationModifier) Transformation() particles.Matrix { return m.tm }

// SetTransformation replaces the matrix.
func (m *AffineTransformationModifier) SetTransformation(tm particles.Matrix) {
	if tm == m.tm {
		return
	}
	m.tm = tm
	m.ParameterChanged()
}

// SelectionOnly reports whether only selected particles are moved.
func (m *AffineTransformationModifier) SelectionOnly() bool { return m.selectedOnly }

// SetSelectionOnly restricts the transformation to selected particles.
func (m *AffineTransformationModifier) SetSelectionOnly(on bool) {
	if on == m.selectedOnly {
		return
	}
	m.selectedOnly = on
	m.ParameterChanged()
}

type transformParticles struct {
	pipeline.DelegateBase
}

func newTransformParticles() pipeline.ModifierDelegate {
	d := &transformParticles{}
	d.InitDelegate(d, ParticlesKey, "Particles")
	return d
}

func (d *transformParticles) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return flowstate.CountObjects[*particles.Particles](st) > 0
}

func (d *transformParticles) Apply(mod pipeline.Modifier, st *flowstate.PipelineFlowState, _ timeline.TimePoint, _ pipeline.ModifierApplicationObject) (flowstate.Status, error) {
	m := mod.(*AffineTransformationModifier)
	p, err := flowstate.ExpectObject[*particles.Particles](*st)
	if err != nil {
		return flowstate.Success, err
	}
	if p.Positions() == nil {
		return flowstate.Success, nil
	}

	var sel *particles.Property
	if m.selectedOnly {
		if sel = p.Property(particles.SelectionProperty); sel == nil {
			return flowstate.NewStatus(flowstate.StatusWarning, "No particles are selected; nothing was transformed."), nil
		}
	}

	pos := flowstate.Mutable(st, p).MutableProperty(particles.PositionProperty)
	for i := 0; i < pos.Count(); i++ {
		if sel != nil && sel.Value(i, 0) == 0 {
			continue
		}
		e := pos.Element(i)
		out := m.tm.Point([3]float64{e[0], e[1], e[2]})
		for c := 0; c < 3; c++ {
			pos.SetValue(i, c, out[c])
		}
	}
	return flowstate.Success, nil
}

type transformCell struct {
	pipeline.DelegateBase
}

func newTransformCell() pipeline.ModifierDelegate {
	d := &transformCell{}
	d.InitDelegate(d, CellKey, "Simulation cell")
	return d
}

func (d *transformCell) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return flowstate.CountObjects[*particles.SimulationCell](st) > 0
}

func (d *transformCell) Apply(mod pipeline.Modifier, st *flowstate.PipelineFlowState, _ timeline.TimePoint, _ pipeline.ModifierApplicationObject) (flowstate.Status, error) {
	m := mod.(*AffineTransformationModifier)
	if m.selectedOnly {
		return flowstate.Success, nil
	}
	cell, err := flowstate.ExpectObject[*particles.SimulationCell](*st)
	if err != nil {
		return flowstate.Success, err
	}
	cell = flowstate.Mutable(st, cell)
	cell.SetMatrix(m.tm.Mul(cell.Matrix()))
	return flowstate.Success, nil
}
