package modifiers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/modifiers/expression"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOutputProperty is the output of a new compute property modifier.
	DefaultOutputProperty = "My property"

	// FrameVariable holds the current animation frame. Expressions using it
	// make the results valid for a single instant only.
	FrameVariable = "Frame"

	minChunkSize   = 256
	progressStride = 1024
)

var errObsoleteResults = errors.New("Cached modifier results are obsolete, because the number of input elements has changed.")

// ComputePropertyModifier assigns the values of a property from one
// expression per vector component. Expressions can refer to the other
// properties of the same elements.
type ComputePropertyModifier struct {
	pipeline.AsynchronousDelegatingModifier

	outputProperty string
	expressions    []string
	onlySelected   bool

	pool *expression.VMPool
}

// NewComputePropertyModifier creates a modifier operating on particles.
func NewComputePropertyModifier(ds *pipeline.Dataset) *ComputePropertyModifier {
	RegisterDelegates(ds.Delegates())
	m := &ComputePropertyModifier{
		outputProperty: DefaultOutputProperty,
		expressions:    []string{"0"},
	}
	m.InitAsynchronousDelegatingModifier(m, ds, ComputePropertyKind)
	_ = m.SetOperateOn(ParticlesKey)

	defaults := ds.UserDefault()
	if v, ok := defaults.String("ComputePropertyModifier", "outputProperty"); ok && v != "" {
		m.outputProperty = v
	}
	if v, ok := defaults.Bool("ComputePropertyModifier", "onlySelected"); ok {
		m.onlySelected = v
	}
	return m
}

// OutputProperty returns the name of the property being computed.
func (m *ComputePropertyModifier) OutputProperty() string { return m.outputProperty }

// SetOutputProperty changes the output property. For standard vector
// properties the expression list is resized to the number of components.
func (m *ComputePropertyModifier) SetOutputProperty(name string) {
	if name == m.outputProperty {
		return
	}
	m.outputProperty = name
	if n := particles.StandardProperty(name, 0).ComponentCount(); n != len(m.expressions) {
		exprs := make([]string, n)
		for i := range exprs {
			exprs[i] = "0"
			if i < len(m.expressions) {
				exprs[i] = m.expressions[i]
			}
		}
		m.expressions = exprs
	}
	m.ParameterChanged()
}

// Expressions returns one expression per output component.
func (m *ComputePropertyModifier) Expressions() []string { return slices.Clone(m.expressions) }

// SetExpressions replaces all expressions.
func (m *ComputePropertyModifier) SetExpressions(exprs ...string) {
	if slices.Equal(exprs, m.expressions) {
		return
	}
	m.expressions = slices.Clone(exprs)
	m.ParameterChanged()
}

// SetExpression replaces the expression of one component.
func (m *ComputePropertyModifier) SetExpression(component int, expr string) error {
	if component < 0 || component >= len(m.expressions) {
		return fmt.Errorf("component index %d out of range", component)
	}
	if m.expressions[component] == expr {
		return nil
	}
	m.expressions[component] = expr
	m.ParameterChanged()
	return nil
}

// OnlySelected reports whether only selected elements are assigned.
func (m *ComputePropertyModifier) OnlySelected() bool { return m.onlySelected }

// SetOnlySelected restricts the computation to selected elements. The
// values of unselected elements are kept.
func (m *ComputePropertyModifier) SetOnlySelected(on bool) {
	if on == m.onlySelected {
		return
	}
	m.onlySelected = on
	m.ParameterChanged()
}

// SetVMPool makes the modifier evaluate on a shared runtime pool.
func (m *ComputePropertyModifier) SetVMPool(p *expression.VMPool) { m.pool = p }

func (m *ComputePropertyModifier) vmPool() (*expression.VMPool, error) {
	if m.pool == nil {
		p, err := expression.NewVMPool(expression.DefaultConfig())
		if err != nil {
			return nil, err
		}
		m.pool = p
	}
	return m.pool, nil
}

// CreateApplication returns an application that records the input
// variables of the last evaluation.
func (m *ComputePropertyModifier) CreateApplication(ds *pipeline.Dataset) pipeline.ModifierApplicationObject {
	return NewComputePropertyApplication(ds)
}

// CreateEngine validates the parameters and takes a snapshot of the input
// properties the expressions refer to.
func (m *ComputePropertyModifier) CreateEngine(ctx context.Context, req pipeline.Request, app pipeline.ModifierApplicationObject, input flowstate.PipelineFlowState) future.Future[pipeline.ComputeEngine] {
	e, err := m.createEngine(req, app, input)
	if err != nil {
		return future.Failed[pipeline.ComputeEngine](err)
	}
	return future.Ready[pipeline.ComputeEngine](e)
}

func (m *ComputePropertyModifier) createEngine(req pipeline.Request, app pipeline.ModifierApplicationObject, input flowstate.PipelineFlowState) (*computeEngine, error) {
	d, _ := m.Delegate().(*computeDelegate)
	if d == nil {
		return nil, errors.New("No delegate set for the compute property modifier.")
	}
	if m.outputProperty == "" {
		return nil, errors.New("Output property of compute property modifier has not been specified.")
	}
	c := d.access(input, nil)
	if c == nil {
		return nil, pipeline.ErrInputNotApplicable
	}

	output := c.Property(m.outputProperty)
	if output != nil {
		output = output.Clone()
	} else {
		output = particles.StandardProperty(m.outputProperty, c.Count())
	}
	if len(m.expressions) != output.ComponentCount() {
		return nil, errors.New("Number of expressions does not match component count of output property.")
	}

	var selection *particles.Property
	if m.onlySelected {
		sel := c.Property(particles.SelectionProperty)
		if sel == nil {
			return nil, errors.New("Compute property modifier has been restricted to selected elements, but no selection was previously defined.")
		}
		selection = sel.Clone()
	}

	prog, err := expression.Compile(m.expressions)
	if err != nil {
		return nil, err
	}
	pool, err := m.vmPool()
	if err != nil {
		return nil, err
	}

	validity := timeline.Infinite()
	if prog.References(FrameVariable) {
		validity = timeline.Instant(req.Time)
	}
	e := &computeEngine{
		ComputeEngineBase: pipeline.NewComputeEngineBase(validity),
		pool:              pool,
		prog:              prog,
		access:            d.access,
		indexVar:          d.indexVar,
		count:             c.Count(),
		output:            output,
		selection:         selection,
		constants:         map[string]float64{},
	}

	names := []string{d.indexVar, "N", FrameVariable}
	e.constants["N"] = float64(c.Count())
	e.constants[FrameVariable] = float64(m.Dataset().AnimationSettings().TimeToFrame(req.Time))
	if cell, ok := flowstate.GetObject[*particles.SimulationCell](input); ok {
		e.constants["CellVolume"] = cell.Volume()
		names = append(names, "CellVolume")
	}

	for _, p := range c.Properties() {
		var vars []variable
		if len(p.ComponentNames()) == 0 {
			vars = append(vars, variable{name: expression.VariableName(p.Name())})
		} else {
			for i, comp := range p.ComponentNames() {
				vars = append(vars, variable{name: expression.ComponentVariable(p.Name(), comp), comp: i})
			}
		}
		var snapshot *particles.Property
		for _, v := range vars {
			names = append(names, v.name)
			if !prog.References(v.name) {
				continue
			}
			if snapshot == nil {
				snapshot = p.Clone()
				e.inputs = append(e.inputs, snapshot)
			}
			v.prop = len(e.inputs) - 1
			e.vars = append(e.vars, v)
		}
	}

	var attrs []string
	for k, v := range input.Attributes() {
		name := expression.VariableName(k)
		if f, ok := numeric(v); ok && name != "" {
			if _, taken := e.constants[name]; !taken {
				e.constants[name] = f
				attrs = append(attrs, name)
			}
		}
	}
	sort.Strings(attrs)
	names = append(names, attrs...)

	e.workers = max(1, min(runtime.GOMAXPROCS(0), pool.Stats().MaxSize, e.count/minChunkSize))
	if a, ok := app.(*ComputePropertyApplication); ok {
		a.inputVariables = names
	}
	m.Dataset().Logger().Debug("compute engine created",
		zap.String("property", m.outputProperty),
		zap.Int("elements", e.count),
		zap.Int("workers", e.workers),
		zap.Stringer("validity", validity))
	return e, nil
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

type variable struct {
	name string
	prop int
	comp int
}

// computeEngine evaluates the expressions on its own copy of the input
// properties.
type computeEngine struct {
	pipeline.ComputeEngineBase

	pool      *expression.VMPool
	prog      *expression.Program
	access    containerAccess
	indexVar  string
	count     int
	workers   int
	inputs    []*particles.Property
	vars      []variable
	constants map[string]float64
	selection *particles.Property
	output    *particles.Property
}

func (e *computeEngine) Perform(ctx context.Context, p *concurrency.Progress) error {
	p.SetText(fmt.Sprintf("Computing property '%s'", e.output.Name()))
	p.SetMaximum(int64(e.count))
	if e.count == 0 {
		return nil
	}
	chunk := (e.count + e.workers - 1) / e.workers
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < e.count; start += chunk {
		end := min(start+chunk, e.count)
		g.Go(func() error { return e.evaluateRange(gctx, p, start, end) })
	}
	return g.Wait()
}

func (e *computeEngine) evaluateRange(ctx context.Context, p *concurrency.Progress, start, end int) error {
	vm, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(vm)

	for name, v := range e.constants {
		if err := vm.SetVariable(name, v); err != nil {
			return err
		}
	}
	truncate := e.output.DataType() == particles.Int
	for i := start; i < end; i++ {
		if (i-start)%progressStride == progressStride-1 {
			if !p.Increment(progressStride) {
				return p.Context().Err()
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if e.selection != nil && e.selection.Value(i, 0) == 0 {
			continue
		}
		if err := vm.SetVariable(e.indexVar, float64(i)); err != nil {
			return err
		}
		for _, v := range e.vars {
			if err := vm.SetVariable(v.name, e.inputs[v.prop].Value(i, v.comp)); err != nil {
				return err
			}
		}
		for c := 0; c < e.prog.Len(); c++ {
			val, err := e.prog.Evaluate(vm, c)
			if err != nil {
				return err
			}
			if truncate {
				val = math.Trunc(val)
			}
			e.output.SetValue(i, c, val)
		}
	}
	return nil
}

// EmitResults stores the computed property in state. With a selection only
// the values of selected elements are replaced.
func (e *computeEngine) EmitResults(_ timeline.TimePoint, _ pipeline.ModifierApplicationObject, st *flowstate.PipelineFlowState) error {
	c := e.access(*st, nil)
	if c == nil {
		return pipeline.ErrInputNotApplicable
	}
	if c.Count() != e.count {
		return errObsoleteResults
	}
	c = e.access(*st, st)
	if e.selection == nil {
		return c.AddProperty(e.output.Clone())
	}

	dst := c.MutableProperty(e.output.Name())
	if dst == nil || dst.ComponentCount() != e.output.ComponentCount() {
		dst = e.output.Clone()
		dst.Fill(0)
		if err := c.AddProperty(dst); err != nil {
			return err
		}
	}
	for i := 0; i < e.count; i++ {
		if e.selection.Value(i, 0) == 0 {
			continue
		}
		for comp := 0; comp < e.output.ComponentCount(); comp++ {
			dst.SetValue(i, comp, e.output.Value(i, comp))
		}
	}
	return nil
}

type computeDelegate struct {
	pipeline.DelegateBase
	indexVar string
	access   containerAccess
}

func newComputeDelegate(key, name, indexVar string, access containerAccess) *computeDelegate {
	d := &computeDelegate{indexVar: indexVar, access: access}
	d.InitDelegate(d, key, name)
	return d
}

func (d *computeDelegate) IsApplicableTo(st flowstate.PipelineFlowState) bool {
	return d.access(st, nil) != nil
}

// Apply does nothing; the results come from the compute engine.
func (d *computeDelegate) Apply(pipeline.Modifier, *flowstate.PipelineFlowState, timeline.TimePoint, pipeline.ModifierApplicationObject) (flowstate.Status, error) {
	return flowstate.Success, nil
}

// ComputePropertyApplication is the application of a compute property
// modifier. It lists the variables available to the expressions.
type ComputePropertyApplication struct {
	pipeline.AsynchronousModifierApplication

	inputVariables []string
}

// NewComputePropertyApplication creates an unconnected application.
func NewComputePropertyApplication(ds *pipeline.Dataset) *ComputePropertyApplication {
	a := &ComputePropertyApplication{}
	a.InitAsynchronousModifierApplication(a, ds)
	return a
}

// InputVariableNames returns the variables of the last evaluation.
func (a *ComputePropertyApplication) InputVariableNames() []string {
	return slices.Clone(a.inputVariables)
}
