package xyz

import (
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/particles"
)

// FrameData is one parsed XYZ frame.
type FrameData struct {
	Particles  *particles.Particles
	Cell       *particles.SimulationCell
	Attributes map[string]any
	Comment    string

	status flowstate.Status
}

// HandOver stores the frame in st. The particle and cell objects of the
// previous frame are updated in place so that their identity survives; the
// boundary flags of an existing cell are only replaced when a new file was
// loaded.
func (d *FrameData) HandOver(st *flowstate.PipelineFlowState, isNewFile bool) error {
	if parts, ok := flowstate.GetObject[*particles.Particles](*st); ok {
		parts = flowstate.Mutable(st, parts)
		if err := parts.ReplaceProperties(d.Particles.Count(), d.Particles.Properties()...); err != nil {
			return err
		}
	} else {
		st.AddObject(d.Particles)
	}

	if cell, ok := flowstate.GetObject[*particles.SimulationCell](*st); ok {
		flowstate.Mutable(st, cell).Assign(d.Cell, isNewFile)
	} else {
		st.AddObject(d.Cell)
	}

	for k, v := range d.Attributes {
		st.SetAttribute(k, v)
	}
	return nil
}

// Status reports the particle count and the comment line.
func (d *FrameData) Status() flowstate.Status { return d.status }
