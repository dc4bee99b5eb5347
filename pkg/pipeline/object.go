package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Request describes one evaluation of a pipeline.
type Request struct {
	Time timeline.TimePoint

	// BreakOnError stops applying modifiers once the state carries an error.
	BreakOnError bool
}

// StateFuture is the asynchronous result of a pipeline evaluation.
type StateFuture = future.Future[flowstate.PipelineFlowState]

// PipelineObject is a stage of a pipeline.
type PipelineObject interface {
	refgraph.Object

	// Evaluate requests the output of the stage at req.Time. The returned
	// state is borrowed; copy it before modification.
	Evaluate(ctx context.Context, req Request) StateFuture

	// EvaluateSynchronous returns the best state available right now without
	// blocking or starting background work.
	EvaluateSynchronous(t timeline.TimePoint) flowstate.PipelineFlowState

	Status() flowstate.Status
	Title() string
	Dataset() *Dataset

	NumberOfSourceFrames() int
	SourceFrameToAnimationTime(frame int) timeline.TimePoint
	AnimationTimeToSourceFrame(t timeline.TimePoint) int
	AnimationFrameLabels() map[int]string
}

// PipelineObjectBase implements the bookkeeping shared by all pipeline
// objects. Concrete types embed it and call InitPipelineObject.
type PipelineObjectBase struct {
	refgraph.Node

	dataset *Dataset
	title   string
	status  flowstate.Status
}

// InitPipelineObject binds the object to its dataset and declares its
// reference fields.
func (p *PipelineObjectBase) InitPipelineObject(self refgraph.Object, ds *Dataset, fields ...refgraph.FieldDescriptor) {
	p.Init(self, fields...)
	p.dataset = ds
}

// Dataset returns the dataset the object belongs to.
func (p *PipelineObjectBase) Dataset() *Dataset { return p.dataset }

// Title returns the display title of the object.
func (p *PipelineObjectBase) Title() string {
	if p.title == "" {
		return DefaultTitle(p.Self())
	}
	return p.title
}

// SetTitle changes the display title.
func (p *PipelineObjectBase) SetTitle(title string) {
	if title == p.title {
		return
	}
	p.title = title
	p.NotifyDependents(refgraph.NewEvent(refgraph.TitleChanged))
}

// Status returns the status of the last evaluation.
func (p *PipelineObjectBase) Status() flowstate.Status { return p.status }

// SetStatus changes the status and notifies dependents if it differs.
func (p *PipelineObjectBase) SetStatus(st flowstate.Status) {
	if st == p.status {
		return
	}
	p.status = st
	p.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
}

func (p *PipelineObjectBase) setStatusQuietly(st flowstate.Status) {
	p.status = st
}

// EvaluatePreliminary returns the synchronous state at the current animation time.
func (p *PipelineObjectBase) EvaluatePreliminary() flowstate.PipelineFlowState {
	obj, ok := p.Self().(PipelineObject)
	if !ok {
		return flowstate.EmptyState(flowstate.Success, timeline.Empty())
	}
	return obj.EvaluateSynchronous(p.dataset.AnimationSettings().Time())
}

// NumberOfSourceFrames returns 1: a plain object is not animated.
func (p *PipelineObjectBase) NumberOfSourceFrames() int { return 1 }

// SourceFrameToAnimationTime maps source frames one to one onto animation frames.
func (p *PipelineObjectBase) SourceFrameToAnimationTime(frame int) timeline.TimePoint {
	return p.dataset.AnimationSettings().FrameToTime(frame)
}

// AnimationTimeToSourceFrame maps animation frames one to one onto source frames.
func (p *PipelineObjectBase) AnimationTimeToSourceFrame(t timeline.TimePoint) int {
	return p.dataset.AnimationSettings().TimeToFrame(t)
}

// AnimationFrameLabels returns no labels.
func (p *PipelineObjectBase) AnimationFrameLabels() map[int]string { return nil }

// DefaultTitle derives a display title from the Go type of obj, e.g.
// "*modifiers.ClearSelectionModifier" becomes "Clear Selection".
func DefaultTitle(obj any) string {
	name := fmt.Sprintf("%T", obj)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "Modifier")

	var words []string
	start := 0
	runes := []rune(name)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))
	return cases.Title(language.English).String(strings.ToLower(strings.Join(words, " ")))
}
