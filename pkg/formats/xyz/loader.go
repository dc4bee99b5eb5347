package xyz

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/fileio"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/particles"
)

type frameLoader struct {
	frame       fileio.Frame
	path        string
	autoRescale bool
}

// Load parses the frame starting at the frame's byte offset.
func (l *frameLoader) Load(ctx context.Context, p *concurrency.Progress) (fileio.FrameData, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(l.frame.ByteOffset, io.SeekStart); err != nil {
		return nil, err
	}
	line := l.frame.LineNumber - 1
	if line < 0 {
		line = 0
	}
	lr := newLineReader(file, l.frame.ByteOffset, line)

	text, ok, err := lr.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("Unexpected end of XYZ file in line %d.", lr.line+1)
	}
	count, err := parseCount(text, lr.line)
	if err != nil {
		return nil, err
	}
	comment, _, err := lr.next()
	if err != nil {
		return nil, err
	}
	h := parseHeader(comment)
	columns := h.columns
	if len(columns) == 0 {
		columns = defaultColumns()
	}

	fd := &FrameData{
		Particles:  particles.NewParticles(count),
		Attributes: h.attributes,
		Comment:    h.comment,
	}
	props := make([]*particles.Property, len(columns))
	for i, col := range columns {
		if col.skip {
			continue
		}
		prop := fd.Particles.Property(col.property)
		if prop == nil {
			width := 0
			for _, c := range columns {
				if c.property == col.property && c.component+1 > width {
					width = c.component + 1
				}
			}
			prop = particles.StandardProperty(col.property, count)
			if prop.ComponentCount() != width || prop.DataType() != col.dataType {
				prop = particles.NewProperty(col.property, col.dataType, count, componentNames(width)...)
			}
			if err := fd.Particles.AddProperty(prop); err != nil {
				return nil, err
			}
		}
		props[i] = prop
	}

	p.SetMaximum(int64(count))
	for i := 0; i < count; i++ {
		if i%4096 == 0 && !p.SetValue(int64(i)) {
			return nil, ctx.Err()
		}
		text, ok, err := lr.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("Unexpected end of XYZ file in line %d. Expected %d particles, found %d.", lr.line+1, count, i)
		}
		fields := strings.Fields(text)
		if len(fields) < len(columns) {
			return nil, perrors.NewError(perrors.CodeLoad, fmt.Sprintf("Parsing error in line %d of XYZ file", lr.line),
				fmt.Errorf("data line contains %d columns, expected %d", len(fields), len(columns)))
		}
		for c, col := range columns {
			if props[c] == nil {
				continue
			}
			if err := storeValue(props[c], col, i, fields[c]); err != nil {
				return nil, perrors.NewError(perrors.CodeLoad, fmt.Sprintf("Parsing error in line %d of XYZ file", lr.line), err)
			}
		}
	}
	if fd.Particles.Property(particles.TypeProperty) != nil {
		sortTypes(fd.Particles.MutableProperty(particles.TypeProperty))
	}

	if lo, hi, ok := fd.Particles.BoundingBox(); ok {
		if !h.hasCell {
			h.cell = particles.Matrix{
				{hi[0] - lo[0], 0, 0, lo[0]},
				{0, hi[1] - lo[1], 0, lo[1]},
				{0, 0, hi[2] - lo[2], lo[2]},
			}
		} else if l.autoRescale {
			rescaleReduced(fd.Particles, h.cell, lo, hi)
		}
	}
	fd.Cell = particles.NewSimulationCell(h.cell, h.pbc)

	if h.comment == "" {
		fd.status = flowstate.NewStatus(flowstate.StatusSuccess, fmt.Sprintf("%d particles", count))
	} else {
		fd.status = flowstate.NewStatus(flowstate.StatusSuccess, fmt.Sprintf("%d particles\n%s", count, h.comment))
	}
	return fd, nil
}

func componentNames(n int) []string {
	if n <= 1 {
		return nil
	}
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i + 1)
	}
	return names
}

// storeValue parses one column value of particle i.
func storeValue(prop *particles.Property, col column, i int, s string) error {
	if col.names {
		if n, err := strconv.Atoi(s); err == nil {
			prop.SetValue(i, col.component, float64(n))
			return nil
		}
		prop.SetValue(i, col.component, float64(prop.AddType(s)))
		return nil
	}
	if col.dataType == particles.Int {
		if b, ok := logical(s); ok {
			prop.SetValue(i, col.component, b)
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer value in column '%s': %s", col.name, s)
		}
		prop.SetValue(i, col.component, float64(n))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid floating-point value in column '%s': %s", col.name, s)
	}
	prop.SetValue(i, col.component, v)
	return nil
}

// logical parses the T/F values of extended XYZ logical columns.
func logical(s string) (float64, bool) {
	switch s {
	case "T", "True", "true":
		return 1, true
	case "F", "False", "false":
		return 0, true
	}
	return 0, false
}

// sortTypes renumbers named types in alphabetical order so that type ids do
// not depend on the order of the particles in the file.
func sortTypes(prop *particles.Property) {
	names := prop.Types()
	if len(names) == 0 {
		return
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	newID := make(map[string]int, len(sorted))
	for i, n := range sorted {
		newID[n] = i + 1
	}
	remap := make(map[int]int, len(names))
	for i, n := range names {
		remap[i+1] = newID[n]
	}
	values := prop.Values()
	for i, v := range values {
		if id, ok := remap[int(v)]; ok {
			values[i] = float64(id)
		}
	}
	prop.SetTypes(sorted)
}

// rescaleReduced converts reduced coordinates into Cartesian ones when all
// of them lie within [0,1] or [-0.5,0.5].
func rescaleReduced(parts *particles.Particles, cell particles.Matrix, lo, hi [3]float64) {
	within := func(a, b float64) bool {
		for c := 0; c < 3; c++ {
			if lo[c] < a || hi[c] > b {
				return false
			}
		}
		return true
	}
	var shift float64
	switch {
	case within(-0.01, 1.01):
	case within(-0.51, 0.51):
		shift = 0.5
	default:
		return
	}
	pos := parts.MutableProperty(particles.PositionProperty)
	for i := 0; i < pos.Count(); i++ {
		r := cell.Point([3]float64{pos.Value(i, 0) + shift, pos.Value(i, 1) + shift, pos.Value(i, 2) + shift})
		for c := 0; c < 3; c++ {
			pos.SetValue(i, c, r[c])
		}
	}
}
