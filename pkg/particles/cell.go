package particles

import (
	"math"

	"github.com/wehubfusion/Helios/pkg/flowstate"
)

// Matrix is an affine transformation. Columns 0 to 2 hold the linear part,
// column 3 the translation.
type Matrix [3][4]float64

// Identity returns the identity transformation.
func Identity() Matrix {
	return Matrix{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
}

// Scaling returns a uniform scaling about the origin.
func Scaling(s float64) Matrix {
	return Matrix{{s, 0, 0, 0}, {0, s, 0, 0}, {0, 0, s, 0}}
}

// Translation returns a pure translation.
func Translation(t [3]float64) Matrix {
	m := Identity()
	for r := 0; r < 3; r++ {
		m[r][3] = t[r]
	}
	return m
}

// Column returns column c.
func (m Matrix) Column(c int) [3]float64 {
	return [3]float64{m[0][c], m[1][c], m[2][c]}
}

// SetColumn replaces column c.
func (m *Matrix) SetColumn(c int, v [3]float64) {
	for r := 0; r < 3; r++ {
		m[r][c] = v[r]
	}
}

// Point transforms a point, applying the translation.
func (m Matrix) Point(p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*p[0] + m[r][1]*p[1] + m[r][2]*p[2] + m[r][3]
	}
	return out
}

// Vector transforms a direction, ignoring the translation.
func (m Matrix) Vector(v [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*v[0] + m[r][1]*v[1] + m[r][2]*v[2]
	}
	return out
}

// Mul returns the transformation m∘n, which applies n first.
func (m Matrix) Mul(n Matrix) Matrix {
	var out Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			v := m[r][0]*n[0][c] + m[r][1]*n[1][c] + m[r][2]*n[2][c]
			if c == 3 {
				v += m[r][3]
			}
			out[r][c] = v
		}
	}
	return out
}

// Determinant returns the determinant of the linear part.
func (m Matrix) Determinant() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// SimulationCell is the periodic domain of a particle system. The columns of
// its matrix are the three cell vectors and the cell origin.
type SimulationCell struct {
	flowstate.ObjectBase

	matrix Matrix
	pbc    [3]bool
	is2D   bool
}

// NewSimulationCell creates a cell with the given geometry and boundary flags.
func NewSimulationCell(m Matrix, pbc [3]bool) *SimulationCell {
	return &SimulationCell{matrix: m, pbc: pbc}
}

func (c *SimulationCell) Clone(bool) flowstate.DataObject {
	cp := &SimulationCell{matrix: c.matrix, pbc: c.pbc, is2D: c.is2D}
	cp.InitClone(&c.ObjectBase)
	return cp
}

func (c *SimulationCell) Matrix() Matrix          { return c.matrix }
func (c *SimulationCell) SetMatrix(m Matrix)      { c.matrix = m }
func (c *SimulationCell) PBC() [3]bool            { return c.pbc }
func (c *SimulationCell) SetPBC(pbc [3]bool)      { c.pbc = pbc }
func (c *SimulationCell) Is2D() bool              { return c.is2D }
func (c *SimulationCell) SetIs2D(is2D bool)       { c.is2D = is2D }
func (c *SimulationCell) Origin() [3]float64      { return c.matrix.Column(3) }
func (c *SimulationCell) Vector(i int) [3]float64 { return c.matrix.Column(i) }

// Volume returns the absolute volume spanned by the cell vectors.
func (c *SimulationCell) Volume() float64 {
	return math.Abs(c.matrix.Determinant())
}

// Assign takes over the geometry of other. The boundary flags are only
// adopted when adoptPBC is set, so a user's choice survives a reload.
func (c *SimulationCell) Assign(other *SimulationCell, adoptPBC bool) {
	c.matrix = other.matrix
	c.is2D = other.is2D
	if adoptPBC {
		c.pbc = other.pbc
	}
}
