package refgraph

import "github.com/wehubfusion/Helios/pkg/timeline"

// EventKind identifies the type of a notification sent through the graph.
type EventKind int

const (
	// TargetChanged signals that the sender's contents changed.
	TargetChanged EventKind = iota
	// TargetDeleted is sent before a node is deleted. Dependents clear their links.
	TargetDeleted
	// ReferenceChanged signals that a single-valued link of the sender was replaced.
	ReferenceChanged
	// ReferenceAdded signals an insertion into a vector link of the sender.
	ReferenceAdded
	// ReferenceRemoved signals a removal from a vector link of the sender.
	ReferenceRemoved
	// TitleChanged signals that the display title of the sender changed.
	TitleChanged
	// ObjectStatusChanged signals that the evaluation status of the sender changed.
	ObjectStatusChanged
	// PipelineChanged signals a structural change of the upstream pipeline.
	PipelineChanged
	// AnimationFramesChanged signals that the number of source frames changed.
	AnimationFramesChanged
	// PreliminaryStateAvailable signals that a new preliminary state can be requested.
	PreliminaryStateAvailable
	// ModifierInputChanged is sent by a modifier application to its modifier's dependents.
	ModifierInputChanged
	// TargetEnabledOrDisabled signals that a modifier or delegate was switched on or off.
	TargetEnabledOrDisabled
)

var eventKindNames = map[EventKind]string{
	TargetChanged:             "TargetChanged",
	TargetDeleted:             "TargetDeleted",
	ReferenceChanged:          "ReferenceChanged",
	ReferenceAdded:            "ReferenceAdded",
	ReferenceRemoved:          "ReferenceRemoved",
	TitleChanged:              "TitleChanged",
	ObjectStatusChanged:       "ObjectStatusChanged",
	PipelineChanged:           "PipelineChanged",
	AnimationFramesChanged:    "AnimationFramesChanged",
	PreliminaryStateAvailable: "PreliminaryStateAvailable",
	ModifierInputChanged:      "ModifierInputChanged",
	TargetEnabledOrDisabled:   "TargetEnabledOrDisabled",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Propagates reports whether events of this kind travel further than one hop
// when a dependent does not handle them explicitly.
func (k EventKind) Propagates() bool {
	switch k {
	case TargetChanged, PipelineChanged, AnimationFramesChanged,
		PreliminaryStateAvailable, TargetEnabledOrDisabled:
		return true
	}
	return false
}

// Event is a notification delivered from a target to its dependents.
// Sender is the node that originally raised the event; the immediate
// source is passed separately to ReferenceEvent.
type Event struct {
	Kind   EventKind
	Sender Object

	// Field, Index, OldTarget and NewTarget describe link mutations.
	Field     string
	Index     int
	OldTarget Object
	NewTarget Object

	// Unchanged is the part of the time axis not affected by a TargetChanged event.
	Unchanged timeline.TimeInterval
}

// NewEvent creates an event of the given kind with an empty unchanged interval.
func NewEvent(kind EventKind) Event {
	return Event{Kind: kind, Index: -1, Unchanged: timeline.Empty()}
}

// TargetChangedEvent creates a TargetChanged event that leaves the given interval untouched.
func TargetChangedEvent(unchanged timeline.TimeInterval) Event {
	ev := NewEvent(TargetChanged)
	ev.Unchanged = unchanged
	return ev
}
