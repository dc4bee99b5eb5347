package modifiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/modifiers/expression"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
)

func outputParticles(t *testing.T, st flowstate.PipelineFlowState) *particles.Particles {
	t.Helper()
	require.False(t, st.Status().IsError(), st.Status().Text)
	p, err := flowstate.ExpectObject[*particles.Particles](st)
	require.NoError(t, err)
	return p
}

func TestComputePropertyFromPositions(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds,
		newParticles([3]float64{1, 2, 3}, [3]float64{4, 5, 6}),
		particles.NewSimulationCell(particles.Scaling(2), [3]bool{}))

	mod := NewComputePropertyModifier(ds)
	mod.SetExpressions("Position.X * 2 + Position.Z")
	app := apply(t, ds, mod, src)

	st := evaluateAt(t, app, 0)
	p := outputParticles(t, st)
	assert.Equal(t, []float64{5, 14}, scalars(t, &p.PropertyContainer, DefaultOutputProperty))
	assert.True(t, st.StateValidity().IsInfinite())

	cpa, ok := app.(*ComputePropertyApplication)
	require.True(t, ok)
	names := cpa.InputVariableNames()
	assert.Equal(t, []string{"ParticleIndex", "N", "Frame", "CellVolume"}, names[:4])
	assert.Contains(t, names, "Position.X")
	assert.Contains(t, names, "Position.Z")
}

func TestComputePropertyUsesIndexAndConstants(t *testing.T) {
	ds := newTestDataset(t)
	const n = 5000
	coords := make([][3]float64, n)
	src := pipeline.NewStaticSource(ds, newParticles(coords...))

	mod := NewComputePropertyModifier(ds)
	mod.SetExpressions("ParticleIndex * 2 + N")
	app := apply(t, ds, mod, src)

	p := outputParticles(t, evaluateAt(t, app, 0))
	values := scalars(t, &p.PropertyContainer, DefaultOutputProperty)
	require.Len(t, values, n)
	for i, v := range values {
		if v != float64(i*2+n) {
			t.Fatalf("element %d: got %v, want %v", i, v, float64(i*2+n))
		}
	}
}

func TestComputePropertyVectorOutput(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds, newParticles([3]float64{0.5, 0, 1}))

	mod := NewComputePropertyModifier(ds)
	mod.SetOutputProperty(particles.ColorProperty)
	assert.Equal(t, []string{"0", "0", "0"}, mod.Expressions())
	require.NoError(t, mod.SetExpression(0, "Position.X"))
	require.NoError(t, mod.SetExpression(2, "1 - Position.Z"))
	assert.Error(t, mod.SetExpression(3, "1"))
	app := apply(t, ds, mod, src)

	p := outputParticles(t, evaluateAt(t, app, 0))
	assert.Equal(t, []float64{0.5, 0, 0}, p.Property(particles.ColorProperty).Element(0))
}

func TestComputePropertyIntegerOutputIsTruncated(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds, newParticles([3]float64{1.7, 0, 0}, [3]float64{-2.5, 0, 0}))

	mod := NewComputePropertyModifier(ds)
	mod.SetOutputProperty(particles.SelectionProperty)
	mod.SetExpressions("Position.X")
	app := apply(t, ds, mod, src)

	p := outputParticles(t, evaluateAt(t, app, 0))
	assert.Equal(t, []float64{1, -2}, scalars(t, &p.PropertyContainer, particles.SelectionProperty))
}

func TestComputePropertyOnlySelected(t *testing.T) {
	ds := newTestDataset(t)
	p := newParticles([3]float64{}, [3]float64{}, [3]float64{})
	setScalar(&p.PropertyContainer, particles.SelectionProperty, 1, 0, 1)
	setScalar(&p.PropertyContainer, "Energy", 5, 5, 5)
	src := pipeline.NewStaticSource(ds, p)

	mod := NewComputePropertyModifier(ds)
	mod.SetOutputProperty("Energy")
	mod.SetExpressions("ParticleIndex + Energy")
	mod.SetOnlySelected(true)
	app := apply(t, ds, mod, src)

	out := outputParticles(t, evaluateAt(t, app, 0))
	assert.Equal(t, []float64{5, 5, 7}, scalars(t, &out.PropertyContainer, "Energy"))
	assert.Equal(t, []float64{5, 5, 5}, scalars(t, &p.PropertyContainer, "Energy"), "source particles are untouched")
}

func TestComputePropertyFrameNarrowsValidity(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds, newParticles([3]float64{}))

	mod := NewComputePropertyModifier(ds)
	mod.SetExpressions("Frame + 1")
	app := apply(t, ds, mod, src)

	st := evaluateAt(t, app, 0)
	p := outputParticles(t, st)
	assert.Equal(t, []float64{1}, scalars(t, &p.PropertyContainer, DefaultOutputProperty))
	assert.Equal(t, timeline.Instant(0), st.StateValidity())
}

func TestComputePropertyExposesAttributes(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds, newParticles([3]float64{}))
	src.SetAttribute("Time", 12)
	src.SetAttribute("Temp", 300.5)
	src.SetAttribute("Label", "run1")

	mod := NewComputePropertyModifier(ds)
	mod.SetExpressions("Time + Temp")
	app := apply(t, ds, mod, src)

	p := outputParticles(t, evaluateAt(t, app, 0))
	assert.Equal(t, []float64{312.5}, scalars(t, &p.PropertyContainer, DefaultOutputProperty))
	names := app.(*ComputePropertyApplication).InputVariableNames()
	assert.Contains(t, names, "Temp")
	assert.NotContains(t, names, "Label")
}

func TestComputePropertyOnBonds(t *testing.T) {
	ds := newTestDataset(t)
	b := particles.NewBonds(3)
	src := pipeline.NewStaticSource(ds, b)

	mod := NewComputePropertyModifier(ds)
	mod.SetExpressions("BondIndex * 10")
	app := apply(t, ds, mod, src)
	assert.Equal(t, BondsKey, mod.OperateOn())

	st := evaluateAt(t, app, 0)
	out, err := flowstate.ExpectObject[*particles.Bonds](st)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20}, scalars(t, &out.PropertyContainer, DefaultOutputProperty))
}

func TestComputePropertyErrors(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*ComputePropertyModifier)
		want      string
	}{
		{
			name:      "no output property",
			configure: func(m *ComputePropertyModifier) { m.SetOutputProperty("") },
			want:      "Output property of compute property modifier has not been specified.",
		},
		{
			name: "expression count",
			configure: func(m *ComputePropertyModifier) {
				m.SetOutputProperty(particles.PositionProperty)
				m.SetExpressions("1")
			},
			want: "Number of expressions does not match component count of output property.",
		},
		{
			name:      "no selection",
			configure: func(m *ComputePropertyModifier) { m.SetOnlySelected(true) },
			want:      "no selection was previously defined",
		},
		{
			name:      "syntax error",
			configure: func(m *ComputePropertyModifier) { m.SetExpressions("1 +") },
			want:      `Evaluation of expression "1 +" failed`,
		},
		{
			name:      "unknown variable",
			configure: func(m *ComputePropertyModifier) { m.SetExpressions("Velocity * 2") },
			want:      "Velocity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := newTestDataset(t)
			src := pipeline.NewStaticSource(ds, newParticles([3]float64{}))
			mod := NewComputePropertyModifier(ds)
			tt.configure(mod)
			app := apply(t, ds, mod, src)

			st := evaluateAt(t, app, 0)
			assert.True(t, st.Status().IsError())
			assert.Contains(t, st.Status().Text, tt.want)
		})
	}
}

func TestComputePropertyReusesResults(t *testing.T) {
	ds := newTestDataset(t)
	pool, err := expression.NewVMPool(expression.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	src := pipeline.NewStaticSource(ds, newParticles([3]float64{2, 0, 0}))
	mod := NewComputePropertyModifier(ds)
	mod.SetVMPool(pool)
	mod.SetExpressions("Position.X")
	app := apply(t, ds, mod, src)

	evaluateAt(t, app, 0)
	acquired := pool.Stats().TotalAcquired
	st := evaluateAt(t, app, 4800)
	p := outputParticles(t, st)
	assert.Equal(t, []float64{2}, scalars(t, &p.PropertyContainer, DefaultOutputProperty))
	assert.Equal(t, acquired, pool.Stats().TotalAcquired, "results valid forever are not recomputed")

	mod.SetExpressions("Position.X + 1")
	p = outputParticles(t, evaluateAt(t, app, 0))
	assert.Equal(t, []float64{3}, scalars(t, &p.PropertyContainer, DefaultOutputProperty))
	assert.Greater(t, pool.Stats().TotalAcquired, acquired)
}

func TestComputePropertyObsoleteResults(t *testing.T) {
	ds := newTestDataset(t)
	src := pipeline.NewStaticSource(ds, newParticles([3]float64{1, 0, 0}))
	mod := NewComputePropertyModifier(ds)
	app := apply(t, ds, mod, src)
	evaluateAt(t, app, 0)

	st := flowstate.NewState(flowstate.NewDataCollection(), flowstate.Success, timeline.Infinite())
	st.AddObject(newParticles([3]float64{}, [3]float64{}))
	err := mod.EvaluateSynchronous(0, app, &st)
	assert.EqualError(t, err, errObsoleteResults.Error())
}
