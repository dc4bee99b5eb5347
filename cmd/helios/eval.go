package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/modifiers"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"go.uber.org/zap"
)

type evalOptions struct {
	frame          int
	clearSelection string
	computes       []string
	onlySelected   bool
	scale          float64
	values         bool
	breakOnError   bool
	output         string
	timeout        time.Duration
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval <file|url>",
		Short: "Evaluate a modifier pipeline at one animation frame",
		Long: "Loads a trajectory, applies the requested modifiers in the order\n" +
			"clear-selection, scale, compute and prints the resulting pipeline state.\n\n" +
			"Compute expressions are JavaScript; vector properties take one expression\n" +
			"per component separated by ';', e.g. --compute 'Color=1;0;Position.X/10'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, root, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.frame, "frame", 0, "Animation frame to evaluate")
	f.StringVar(&opts.clearSelection, "clear-selection", "", "Clear the selection of 'particles' or 'bonds'")
	f.StringArrayVar(&opts.computes, "compute", nil, "Compute a particle property: name=expr[;expr...] (repeatable)")
	f.BoolVar(&opts.onlySelected, "only-selected", false, "Compute properties for selected particles only")
	f.Float64Var(&opts.scale, "scale", 0, "Scale particles and cell uniformly by this factor")
	f.BoolVar(&opts.values, "values", false, "Include per-element property values in the output")
	f.BoolVar(&opts.breakOnError, "break-on-error", false, "Skip modifiers once the input reports an error")
	f.StringVarP(&opts.output, "output", "o", "yaml", "Output format: yaml or json")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Maximum evaluation time")
	return cmd
}

type computeSpec struct {
	property    string
	expressions []string
}

func parseCompute(s string) (computeSpec, error) {
	name, exprs, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(exprs) == "" {
		return computeSpec{}, fmt.Errorf("invalid --compute %q: expected name=expression", s)
	}
	spec := computeSpec{property: name}
	for _, e := range strings.Split(exprs, ";") {
		spec.expressions = append(spec.expressions, strings.TrimSpace(e))
	}
	return spec, nil
}

func runEval(cmd *cobra.Command, root *rootOptions, opts *evalOptions, location string) error {
	if err := checkOutputFormat(opts.output, false); err != nil {
		return err
	}
	specs := make([]computeSpec, 0, len(opts.computes))
	for _, c := range opts.computes {
		spec, err := parseCompute(c)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	s, err := newSession(ctx, root.cfg, root.logger)
	if err != nil {
		return err
	}
	defer s.Close()

	fs, err := s.openSource(ctx, location)
	if err != nil {
		s.reportError(err)
		return fmt.Errorf("frame discovery failed: %w", err)
	}

	top, err := s.buildPipeline(ctx, fs, opts, specs)
	if err != nil {
		return err
	}
	if err := s.listener.SetTarget(top); err != nil {
		return err
	}

	t := s.dataset.AnimationSettings().FrameToTime(opts.frame)
	st, err := s.dataset.Wait(ctx, top.Evaluate(ctx, pipeline.Request{Time: t, BreakOnError: opts.breakOnError}))
	if err != nil {
		s.reportError(err)
		return fmt.Errorf("evaluation failed: %w", err)
	}
	s.logger.Debug("pipeline evaluated",
		zap.String("pipeline", top.Title()),
		zap.Int("frame", opts.frame),
		zap.String("status", st.Status().Type.String()))

	return writeStructured(cmd.OutOrStdout(), opts.output, summarize(top, opts.frame, st, opts.values))
}

func (s *session) buildPipeline(ctx context.Context, fs pipeline.PipelineObject, opts *evalOptions, specs []computeSpec) (pipeline.PipelineObject, error) {
	ds := s.dataset
	var mods []pipeline.Modifier

	if opts.clearSelection != "" {
		m := modifiers.NewClearSelectionModifier(ds)
		if err := m.SetOperateOn(opts.clearSelection); err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	if opts.scale != 0 {
		m := modifiers.NewAffineTransformationModifier(ds)
		m.SetTransformation(particles.Scaling(opts.scale))
		mods = append(mods, m)
	}
	for _, spec := range specs {
		m := modifiers.NewComputePropertyModifier(ds)
		m.SetVMPool(s.pool)
		m.SetOutputProperty(spec.property)
		m.SetExpressions(spec.expressions...)
		m.SetOnlySelected(opts.onlySelected)
		mods = append(mods, m)
	}

	top := fs
	for _, m := range mods {
		app, err := pipeline.Apply(ctx, ds, m, top)
		if err != nil {
			return nil, fmt.Errorf("failed to insert modifier %q: %w", m.Title(), err)
		}
		top = app
	}
	return top, nil
}

type evalReport struct {
	Pipeline   string         `yaml:"pipeline" json:"pipeline"`
	Frame      int            `yaml:"frame" json:"frame"`
	Status     statusReport   `yaml:"status" json:"status"`
	Validity   string         `yaml:"validity" json:"validity"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Objects    []objectReport `yaml:"objects" json:"objects"`
}

type statusReport struct {
	Type string `yaml:"type" json:"type"`
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
}

type objectReport struct {
	Type       string           `yaml:"type" json:"type"`
	Identifier string           `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	Count      int              `yaml:"count,omitempty" json:"count,omitempty"`
	Properties []propertyReport `yaml:"properties,omitempty" json:"properties,omitempty"`
	Cell       *cellReport      `yaml:"cell,omitempty" json:"cell,omitempty"`
}

type propertyReport struct {
	Name       string    `yaml:"name" json:"name"`
	DataType   string    `yaml:"type" json:"type"`
	Components []string  `yaml:"components,omitempty" json:"components,omitempty"`
	Values     []float64 `yaml:"values,omitempty" json:"values,omitempty"`
}

type cellReport struct {
	Vectors [3][3]float64 `yaml:"vectors" json:"vectors"`
	Origin  [3]float64    `yaml:"origin" json:"origin"`
	PBC     [3]bool       `yaml:"pbc" json:"pbc"`
	Volume  float64       `yaml:"volume" json:"volume"`
}

func summarize(top pipeline.PipelineObject, frame int, st flowstate.PipelineFlowState, values bool) evalReport {
	r := evalReport{
		Pipeline:   top.Title(),
		Frame:      frame,
		Status:     statusReport{Type: st.Status().Type.String(), Text: st.Status().Text},
		Validity:   st.StateValidity().String(),
		Attributes: st.Attributes(),
	}
	if st.IsEmpty() {
		return r
	}
	for _, obj := range st.Objects() {
		or := objectReport{Identifier: obj.Identifier()}
		switch o := obj.(type) {
		case *particles.Particles:
			or.Type = "Particles"
			or.Count = o.Count()
			or.Properties = propertyReports(&o.PropertyContainer, values)
		case *particles.Bonds:
			or.Type = "Bonds"
			or.Count = o.Count()
			or.Properties = propertyReports(&o.PropertyContainer, values)
		case *particles.SimulationCell:
			or.Type = "SimulationCell"
			or.Cell = &cellReport{
				Vectors: [3][3]float64{o.Vector(0), o.Vector(1), o.Vector(2)},
				Origin:  o.Origin(),
				PBC:     o.PBC(),
				Volume:  o.Volume(),
			}
		default:
			or.Type = fmt.Sprintf("%T", obj)
		}
		r.Objects = append(r.Objects, or)
	}
	return r
}

func propertyReports(c *particles.PropertyContainer, values bool) []propertyReport {
	props := c.Properties()
	sort.Slice(props, func(i, j int) bool { return props[i].Name() < props[j].Name() })
	out := make([]propertyReport, len(props))
	for i, p := range props {
		out[i] = propertyReport{
			Name:       p.Name(),
			DataType:   p.DataType().String(),
			Components: p.ComponentNames(),
		}
		if values {
			out[i].Values = append([]float64(nil), p.Values()...)
		}
	}
	return out
}
