package xyz

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/wehubfusion/Helios/pkg/particles"
	"golang.org/x/text/cases"
)

// column maps one data column of the particle lines to a property component.
type column struct {
	name      string
	property  string
	component int
	dataType  particles.DataType
	// names marks columns that may hold type names such as "Cu".
	names bool
	skip  bool
}

// defaultColumns is the layout of a plain XYZ file: type x y z.
func defaultColumns() []column {
	return []column{
		{name: "type", property: particles.TypeProperty, dataType: particles.Int, names: true},
		{name: "pos", property: particles.PositionProperty, component: 0},
		{name: "pos", property: particles.PositionProperty, component: 1},
		{name: "pos", property: particles.PositionProperty, component: 2},
	}
}

// header is the information found in the comment line of a frame.
type header struct {
	comment    string
	cell       particles.Matrix
	hasCell    bool
	pbc        [3]bool
	hasPBC     bool
	columns    []column
	attributes map[string]any
}

// foldKey case-folds a key. A Caser keeps state, so loaders running in
// parallel each get their own.
func foldKey(s string) string { return cases.Fold().String(s) }

// indexFold is a case-insensitive strings.Index for ASCII needles.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// standardNames maps extended XYZ column names to property names.
var standardNames = map[string]string{
	"type":       particles.TypeProperty,
	"element":    particles.TypeProperty,
	"atom_types": particles.TypeProperty,
	"species":    particles.TypeProperty,
	"pos":        particles.PositionProperty,
	"selection":  particles.SelectionProperty,
	"color":      particles.ColorProperty,
	"id":         particles.IdentifierProperty,
}

func parseHeader(line string) header {
	h := header{comment: strings.TrimSpace(line), attributes: map[string]any{}}

	// Cubic box given by its edge lengths and centered at the origin.
	var rest string
	if i := strings.Index(line, "Lxyz="); i >= 0 {
		rest = line[i+5:]
	} else if i := strings.Index(line, "boxsize"); i >= 0 {
		rest = line[i+7:]
	}
	if v, ok := parseFloats(rest, 3); ok {
		h.cell = particles.Matrix{
			{v[0], 0, 0, -v[0] / 2},
			{0, v[1], 0, -v[1] / 2},
			{0, 0, v[2], -v[2] / 2},
		}
		h.hasCell = true
	}

	var vectors [3][3]float64
	var origin [3]float64
	if i := indexFold(line, `lattice="`); i >= 0 {
		if v, ok := parseFloats(quoted(line[i+9:]), 9); ok {
			for k := 0; k < 9; k++ {
				vectors[k/3][k%3] = v[k]
			}
		}
		if i := indexFold(line, `cell_origin="`); i >= 0 {
			origin = parseVector(quoted(line[i+13:]))
		} else if i := indexFold(line, `origin="`); i >= 0 {
			origin = parseVector(quoted(line[i+8:]))
		}
		h.parseKeyValues(line)
	} else {
		if h.comment != "" {
			h.attributes["Comment"] = h.comment
		}
		// Cell written by the Parcas MD code.
		for k, key := range []string{"cell_vec1 ", "cell_vec2 ", "cell_vec3 "} {
			if i := strings.Index(line, key); i >= 0 {
				vectors[k] = parseVector(line[i+len(key):])
			}
		}
		if i := strings.Index(line, "cell_orig "); i >= 0 {
			origin = parseVector(line[i+10:])
		}
	}
	if vectors[0] != [3]float64{} && vectors[1] != [3]float64{} && vectors[2] != [3]float64{} {
		for c := 0; c < 3; c++ {
			h.cell.SetColumn(c, vectors[c])
		}
		h.cell.SetColumn(3, origin)
		h.hasCell = true
	}

	if i := strings.Index(line, "pbc "); i >= 0 {
		f := strings.Fields(line[i+4:])
		for k := 0; k < 3 && k < len(f); k++ {
			n, _ := strconv.Atoi(f[k])
			h.pbc[k] = n != 0
		}
		h.hasPBC = true
	} else if i := strings.Index(line, `pbc="`); i >= 0 {
		f := strings.Fields(quoted(line[i+5:]))
		for k := 0; k < 3 && k < len(f); k++ {
			h.pbc[k] = parseBool(f[k])
		}
		h.hasPBC = true
	} else if h.hasCell {
		h.pbc = [3]bool{true, true, true}
		h.hasPBC = true
	}

	if i := indexFold(line, "properties="); i >= 0 {
		spec := line[i+11:]
		if j := strings.IndexFunc(spec, unicode.IsSpace); j >= 0 {
			spec = spec[:j]
		}
		h.columns = parseColumns(spec)
	}
	return h
}

// parseKeyValues stores the key=value pairs of an extended XYZ comment line
// as attributes. Values become int, float64 or string, whichever parses first.
func (h *header) parseKeyValues(line string) {
	i := 0
	for {
		for i < len(line) && unicode.IsSpace(rune(line[i])) {
			i++
		}
		if i >= len(line) {
			return
		}
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 || i+eq >= len(line)-1 {
			return
		}
		key := line[i : i+eq]
		start := i + eq + 1
		isQuoted := line[start] == '"'
		if isQuoted {
			start++
		}
		end := start
		for end < len(line) && ((isQuoted && line[end] != '"') || (!isQuoted && !unicode.IsSpace(rune(line[end])))) {
			end++
		}
		if end > start {
			value := line[start:end]
			switch foldKey(key) {
			case "lattice", "properties", "cell_origin", "origin":
			default:
				h.attributes[key] = parseValue(value)
			}
		}
		i = end + 1
		if isQuoted {
			i++
		}
	}
}

// parseColumns decodes a Properties=name:T:n[:name:T:n...] specification.
func parseColumns(spec string) []column {
	fields := strings.Split(spec, ":")
	var cols []column
	for i := 0; i+2 < len(fields); i += 3 {
		name := fields[i]
		kind := fields[i+1]
		n, _ := strconv.Atoi(fields[i+2])
		prop, standard := standardNames[foldKey(name)]
		if !standard {
			prop = name
		}
		for k := 0; k < n; k++ {
			col := column{name: name, property: prop, component: k}
			switch {
			case strings.HasPrefix(kind, "I"), strings.HasPrefix(kind, "L"):
				col.dataType = particles.Int
			case strings.HasPrefix(kind, "S"):
				// Strings are only meaningful for element types.
				col.dataType = particles.Int
				col.names = prop == particles.TypeProperty
				col.skip = !col.names
			}
			if prop == particles.TypeProperty {
				col.dataType = particles.Int
				col.names = true
			}
			cols = append(cols, col)
		}
	}
	return cols
}

func quoted(s string) string {
	if i := strings.IndexByte(s, '"'); i >= 0 {
		return s[:i]
	}
	return s
}

func parseFloats(s string, n int) ([]float64, bool) {
	f := strings.Fields(s)
	if len(f) < n {
		return nil, false
	}
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		v, err := strconv.ParseFloat(f[k], 64)
		if err != nil {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

func parseVector(s string) [3]float64 {
	var v [3]float64
	for k, f := range strings.Fields(s) {
		if k >= 3 {
			break
		}
		v[k], _ = strconv.ParseFloat(f, 64)
	}
	return v
}

func parseBool(s string) bool {
	switch foldKey(s) {
	case "t", "true", "1":
		return true
	}
	return false
}

func parseValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}
