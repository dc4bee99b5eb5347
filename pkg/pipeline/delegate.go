package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"golang.org/x/text/cases"
)

// ErrInputNotApplicable is returned when a delegate cannot find its kind of
// data in the modifier input.
var ErrInputNotApplicable = errors.New("The modifier's pipeline input does not contain the expected kind of data.")

// UnsupportedDelegateError reports an operate-on key without a registered delegate.
type UnsupportedDelegateError struct {
	Key     string
	Choices []string
}

func (e *UnsupportedDelegateError) Error() string {
	return fmt.Sprintf("'%s' is not a supported data element. Valid choices are: %s", e.Key, strings.Join(e.Choices, ", "))
}

func (e *UnsupportedDelegateError) Unwrap() error { return perrors.ErrUnsupportedDelegate }

// ModifierDelegate implements a modifier for one kind of data element.
type ModifierDelegate interface {
	refgraph.Object

	DataKey() string
	DisplayName() string
	IsEnabled() bool
	SetEnabled(enabled bool)

	IsApplicableTo(state flowstate.PipelineFlowState) bool
	Apply(mod Modifier, state *flowstate.PipelineFlowState, t timeline.TimePoint, app ModifierApplicationObject) (flowstate.Status, error)
}

// DelegateBase provides the key, display name and enabled flag of a delegate.
type DelegateBase struct {
	refgraph.Node

	key     string
	name    string
	enabled bool
}

// InitDelegate initializes a delegate embedded in self.
func (d *DelegateBase) InitDelegate(self refgraph.Object, key, displayName string, fields ...refgraph.FieldDescriptor) {
	d.Init(self, fields...)
	d.key = key
	d.name = displayName
	d.enabled = true
}

func (d *DelegateBase) DataKey() string     { return d.key }
func (d *DelegateBase) DisplayName() string { return d.name }
func (d *DelegateBase) IsEnabled() bool     { return d.enabled }

// SetEnabled switches the delegate on or off.
func (d *DelegateBase) SetEnabled(enabled bool) {
	if enabled == d.enabled {
		return
	}
	d.enabled = enabled
	d.NotifyDependents(refgraph.NewEvent(refgraph.TargetEnabledOrDisabled))
}

// DelegateFactory creates a delegate instance.
type DelegateFactory func() ModifierDelegate

type delegateEntry struct {
	key     string
	factory DelegateFactory
}

// DelegateRegistry maps modifier kinds to the delegates available for them.
// Keys are matched case-insensitively.
type DelegateRegistry struct {
	kinds map[string][]delegateEntry
	fold  cases.Caser
}

// NewDelegateRegistry creates an empty registry.
func NewDelegateRegistry() *DelegateRegistry {
	return &DelegateRegistry{kinds: map[string][]delegateEntry{}, fold: cases.Fold()}
}

// Register adds a delegate for a modifier kind. Registering a key again
// replaces the factory.
func (r *DelegateRegistry) Register(kind, key string, factory DelegateFactory) {
	entries := r.kinds[kind]
	for i, e := range entries {
		if r.fold.String(e.key) == r.fold.String(key) {
			entries[i].factory = factory
			return
		}
	}
	r.kinds[kind] = append(entries, delegateEntry{key: key, factory: factory})
}

// Keys returns the registered keys of a kind in registration order.
func (r *DelegateRegistry) Keys(kind string) []string {
	entries := r.kinds[kind]
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// Create instantiates the delegate registered for key.
func (r *DelegateRegistry) Create(kind, key string) (ModifierDelegate, error) {
	for _, e := range r.kinds[kind] {
		if r.fold.String(e.key) == r.fold.String(key) {
			return e.factory(), nil
		}
	}
	return nil, &UnsupportedDelegateError{Key: key, Choices: r.Keys(kind)}
}

// CreateAll instantiates one delegate per registered key.
func (r *DelegateRegistry) CreateAll(kind string) []ModifierDelegate {
	out := make([]ModifierDelegate, 0, len(r.kinds[kind]))
	for _, e := range r.kinds[kind] {
		out = append(out, e.factory())
	}
	return out
}

var delegatingFields = []refgraph.FieldDescriptor{
	{Name: "delegate", Clone: refgraph.CloneAlways},
}

// DelegatingModifier forwards its work to one delegate selected by an
// operate-on key.
type DelegatingModifier struct {
	ModifierBase

	kind string
}

// InitDelegatingModifier initializes a modifier embedded in self whose
// delegates are registered under kind.
func (m *DelegatingModifier) InitDelegatingModifier(self refgraph.Object, ds *Dataset, kind string, fields ...refgraph.FieldDescriptor) {
	m.InitModifier(self, ds, append(append([]refgraph.FieldDescriptor{}, delegatingFields...), fields...)...)
	m.kind = kind
}

// Delegate returns the active delegate, or nil.
func (m *DelegatingModifier) Delegate() ModifierDelegate {
	d, _ := m.Link("delegate").(ModifierDelegate)
	return d
}

// SetDelegate replaces the active delegate.
func (m *DelegatingModifier) SetDelegate(d ModifierDelegate) error {
	if d == nil {
		return m.SetLink("delegate", nil)
	}
	return m.SetLink("delegate", d)
}

// OperateOn returns the key of the active delegate.
func (m *DelegatingModifier) OperateOn() string {
	if d := m.Delegate(); d != nil {
		return d.DataKey()
	}
	return ""
}

// SetOperateOn selects the delegate registered for key.
func (m *DelegatingModifier) SetOperateOn(key string) error {
	d, err := m.Dataset().Delegates().Create(m.kind, key)
	if err != nil {
		return err
	}
	return m.SetDelegate(d)
}

// EvaluateSynchronous applies the active delegate to state.
func (m *DelegatingModifier) EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	d := m.Delegate()
	if d == nil || !d.IsEnabled() {
		return nil
	}
	if !d.IsApplicableTo(*state) {
		return ErrInputNotApplicable
	}
	status, err := d.Apply(m.Self().(Modifier), state, t, app)
	if err != nil {
		return err
	}
	if status != flowstate.Success {
		state.SetStatus(status)
	}
	return nil
}

// InitializeModifier picks the first applicable delegate if the current one
// cannot handle the pipeline input.
func (m *DelegatingModifier) InitializeModifier(ctx context.Context, app ModifierApplicationObject) {
	input := flowstate.EmptyState(flowstate.Success, timeline.Empty())
	if in := app.Input(); in != nil {
		input = in.EvaluateSynchronous(m.Dataset().AnimationSettings().Time())
	}
	if d := m.Delegate(); d != nil && d.IsApplicableTo(input) {
		return
	}
	for _, d := range m.Dataset().Delegates().CreateAll(m.kind) {
		if d.IsApplicableTo(input) {
			_ = m.SetDelegate(d)
			return
		}
	}
}

var multiDelegatingFields = []refgraph.FieldDescriptor{
	{Name: "delegates", Vector: true, Clone: refgraph.CloneAlways},
}

// MultiDelegatingModifier applies every enabled delegate that finds its kind
// of data in the input.
type MultiDelegatingModifier struct {
	ModifierBase

	kind string
}

// InitMultiDelegatingModifier initializes a modifier embedded in self with
// one delegate per key registered under kind.
func (m *MultiDelegatingModifier) InitMultiDelegatingModifier(self refgraph.Object, ds *Dataset, kind string, fields ...refgraph.FieldDescriptor) {
	m.InitModifier(self, ds, append(append([]refgraph.FieldDescriptor{}, multiDelegatingFields...), fields...)...)
	m.kind = kind
	for _, d := range ds.Delegates().CreateAll(kind) {
		_ = m.InsertLink("delegates", -1, d)
	}
}

// Delegates returns all delegates of the modifier.
func (m *MultiDelegatingModifier) Delegates() []ModifierDelegate {
	links := m.Links("delegates")
	out := make([]ModifierDelegate, 0, len(links))
	for _, l := range links {
		out = append(out, l.(ModifierDelegate))
	}
	return out
}

// DelegateFor returns the delegate registered for key.
func (m *MultiDelegatingModifier) DelegateFor(key string) (ModifierDelegate, bool) {
	fold := cases.Fold()
	for _, d := range m.Delegates() {
		if fold.String(d.DataKey()) == fold.String(key) {
			return d, true
		}
	}
	return nil, false
}

// EvaluateSynchronous applies all applicable delegates and merges their statuses.
func (m *MultiDelegatingModifier) EvaluateSynchronous(t timeline.TimePoint, app ModifierApplicationObject, state *flowstate.PipelineFlowState) error {
	status := flowstate.Success
	self := m.Self().(Modifier)
	for _, d := range m.Delegates() {
		if !d.IsEnabled() || !d.IsApplicableTo(*state) {
			continue
		}
		st, err := d.Apply(self, state, t, app)
		if err != nil {
			return err
		}
		status = status.Merge(st)
	}
	if status != flowstate.Success {
		state.SetStatus(status)
	}
	return nil
}
