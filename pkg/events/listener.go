// Package events forwards pipeline notifications to external observers.
//
// A Listener watches one pipeline object through the reference graph and
// converts status changes, invalidations and deletion into Event values
// that are handed to a list of Sinks (log, NATS, Sentry).
package events

import (
	"errors"
	"time"

	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"go.uber.org/zap"
)

// Kind classifies an Event.
type Kind string

const (
	KindStatus  Kind = "status"
	KindChanged Kind = "changed"
	KindDeleted Kind = "deleted"
)

// Event describes a notification of a watched pipeline object.
type Event struct {
	NodeID string    `json:"node_id"`
	Title  string    `json:"title"`
	Kind   Kind      `json:"kind"`
	Status string    `json:"status"`
	Text   string    `json:"text,omitempty"`
	Time   time.Time `json:"time"`
}

// Sink receives events. Sinks are called on the owning goroutine and must
// not block.
type Sink interface {
	Send(ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }

var listenerFields = []refgraph.FieldDescriptor{
	{Name: "target", Clone: refgraph.CloneNever},
}

// Listener forwards the notifications of one pipeline object to its sinks.
type Listener struct {
	refgraph.Node

	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewListener creates a listener without target.
func NewListener(logger *zap.Logger, sinks ...Sink) (*Listener, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	l := &Listener{sinks: sinks, logger: logger, now: time.Now}
	l.Init(l, listenerFields...)
	return l, nil
}

// Target returns the watched object, or nil.
func (l *Listener) Target() pipeline.PipelineObject {
	p, _ := l.Link("target").(pipeline.PipelineObject)
	return p
}

// SetTarget starts watching obj. Passing nil stops watching.
func (l *Listener) SetTarget(obj pipeline.PipelineObject) error {
	if obj == nil {
		return l.SetLink("target", nil)
	}
	return l.SetLink("target", obj)
}

// AddSink appends a sink.
func (l *Listener) AddSink(s Sink) { l.sinks = append(l.sinks, s) }

// ReferenceEvent converts notifications of the target into events.
func (l *Listener) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	target := l.Target()
	if target == nil || !refgraph.Same(source, target) {
		return false
	}
	switch ev.Kind {
	case refgraph.ObjectStatusChanged:
		l.emit(target, KindStatus)
	case refgraph.TargetChanged:
		l.emit(target, KindChanged)
	case refgraph.TargetDeleted:
		l.emit(target, KindDeleted)
	}
	return false
}

// ReferenceReplaced suppresses the default change notification; a listener
// has no dependents.
func (l *Listener) ReferenceReplaced(string, refgraph.Object, refgraph.Object) {}

func (l *Listener) emit(target pipeline.PipelineObject, kind Kind) {
	st := target.Status()
	ev := Event{
		NodeID: target.Base().ID().String(),
		Title:  target.Title(),
		Kind:   kind,
		Status: st.Type.String(),
		Text:   st.Text,
		Time:   l.now(),
	}
	for _, s := range l.sinks {
		if err := s.Send(ev); err != nil {
			l.logger.Warn("event sink failed",
				zap.String("node", ev.NodeID),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
}

// statusType parses the status name of an event.
func statusType(name string) flowstate.StatusType {
	switch name {
	case flowstate.StatusWarning.String():
		return flowstate.StatusWarning
	case flowstate.StatusError.String():
		return flowstate.StatusError
	case flowstate.StatusPending.String():
		return flowstate.StatusPending
	default:
		return flowstate.StatusSuccess
	}
}
