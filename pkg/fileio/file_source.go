package fileio

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"

	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/zap"
)

var fileSourceFields = []refgraph.FieldDescriptor{
	{Name: "data", Clone: refgraph.CloneNever},
}

// FileSource is the head of a pipeline that reads its data from files.
//
// The source keeps the list of frames found by its importer and the data
// collection of the frame shown at the current animation time. Other
// frames are loaded on demand and only live in the pipeline cache.
type FileSource struct {
	pipeline.CachingPipelineObject

	importer *Importer
	urls     []*url.URL
	frames   []Frame
	listed   bool

	listing future.Future[[]Frame]
	listGen uint64

	playbackNum   int
	playbackDen   int
	playbackStart int

	originallySelected string
	isNewFile          bool
	handOverInProgress bool
	activeLoaders      int

	data        flowstate.PipelineFlowState
	dataFrame   int
	frameLabels map[int]string
}

// NewFileSource creates a file source without input. Playback parameters
// are taken from the user defaults of class "FileSource".
func NewFileSource(ds *pipeline.Dataset) *FileSource {
	fs := &FileSource{
		playbackNum: 1,
		playbackDen: 1,
		dataFrame:   -1,
	}
	fs.InitCachingPipelineObject(fs, ds, fileSourceFields...)

	defaults := ds.UserDefault()
	if v, ok := defaults.Int("FileSource", "playbackSpeedNumerator"); ok && v >= 1 {
		fs.playbackNum = v
	}
	if v, ok := defaults.Int("FileSource", "playbackSpeedDenominator"); ok && v >= 1 {
		fs.playbackDen = v
	}
	if v, ok := defaults.Int("FileSource", "playbackStartTime"); ok {
		fs.playbackStart = v
	}

	fs.data = flowstate.NewState(flowstate.NewDataCollection(), flowstate.Success, timeline.Infinite())
	_ = fs.SetLink("data", fs.data.Data())
	return fs
}

// Importer returns the importer, or nil before SetSource.
func (fs *FileSource) Importer() *Importer { return fs.importer }

// SourceURLs returns the locations the frames are discovered from.
func (fs *FileSource) SourceURLs() []*url.URL { return slices.Clone(fs.urls) }

// Frames returns the discovered frames.
func (fs *FileSource) Frames() []Frame { return slices.Clone(fs.frames) }

// Data returns the state holding the data of the frame at the current
// animation time. The state is borrowed.
func (fs *FileSource) Data() flowstate.PipelineFlowState { return fs.data }

// DataFrame returns the index of the frame stored in Data, or -1.
func (fs *FileSource) DataFrame() int { return fs.dataFrame }

// Title combines the current file name with the format name.
func (fs *FileSource) Title() string {
	var name string
	if fs.dataFrame >= 0 && fs.dataFrame < len(fs.frames) {
		name = fs.frames[fs.dataFrame].FileName()
	} else if len(fs.urls) > 0 {
		name = transport.Base(fs.urls[0])
	}
	if fs.importer != nil {
		return fmt.Sprintf("%s [%s]", name, fs.importer.Format().Name())
	}
	return fs.CachingPipelineObject.Title()
}

// Status reports Pending while frames are being discovered or loaded.
func (fs *FileSource) Status() flowstate.Status {
	st := fs.CachingPipelineObject.Status()
	if fs.listing.IsValid() || fs.activeLoaders > 0 {
		st.Type = flowstate.StatusPending
	}
	return st
}

// SetSource points the source at new input and rescans it. With
// autodetect, the last number in a single file name is replaced by a
// wildcard so that the whole numbered sequence is loaded; the originally
// selected file becomes the current frame once the list is known.
func (fs *FileSource) SetSource(ctx context.Context, urls []*url.URL, importer *Importer, autodetect bool) future.Future[[]Frame] {
	urls = slices.Clone(urls)
	if importer == fs.importer && sameURLs(urls, fs.urls) {
		return fs.requestFrameList(ctx, false)
	}

	fs.originallySelected = ""
	if len(urls) > 0 {
		fs.originallySelected = transport.Base(urls[0])
	}
	if importer != nil && autodetect && len(urls) == 1 && importer.Format().AutoGenerateWildcardPattern() {
		if pattern, ok := AutoWildcard(fs.originallySelected); ok {
			urls[0] = transport.Join(transport.Dir(urls[0]), pattern)
		}
	}
	if importer == fs.importer && sameURLs(urls, fs.urls) {
		return fs.requestFrameList(ctx, false)
	}

	fs.urls = urls
	fs.importer = importer
	fs.isNewFile = true
	fs.frames = nil
	fs.listed = false
	fs.frameLabels = nil
	fs.listing = future.Future[[]Frame]{}

	fs.InvalidatePipelineCache(timeline.Empty())
	fs.NotifyTargetChanged()
	fs.NotifyDependents(refgraph.NewEvent(refgraph.TitleChanged))

	return fs.UpdateListOfFrames(ctx)
}

func sameURLs(a, b []*url.URL) bool {
	return slices.EqualFunc(a, b, func(x, y *url.URL) bool { return urlString(x) == urlString(y) })
}

// UpdateListOfFrames rescans the input for frames.
func (fs *FileSource) UpdateListOfFrames(ctx context.Context) future.Future[[]Frame] {
	exec := fs.Dataset().Executor()
	f := fs.requestFrameList(ctx, true)
	return future.Handle(f, exec, func(frames []Frame, err error) ([]Frame, error) {
		if err != nil && !perrors.IsCanceled(err) {
			fs.Dataset().Logger().Error("Failed to scan input for frames",
				zap.String("node", fs.ID().String()),
				zap.Error(err))
		}
		return frames, err
	})
}

// requestFrameList returns the frame list, scanning the input if no list
// is known yet or force is set. Concurrent requests share one scan.
func (fs *FileSource) requestFrameList(ctx context.Context, force bool) future.Future[[]Frame] {
	if fs.importer == nil {
		return future.Ready[[]Frame](nil)
	}
	if fs.listing.IsValid() {
		if !force || !fs.listing.IsDone() {
			return fs.listing
		}
		fs.listing = future.Future[[]Frame]{}
	}
	if fs.listed && !force {
		return future.Ready(slices.Clone(fs.frames))
	}

	exec := fs.Dataset().Executor()
	fs.listGen++
	gen := fs.listGen

	// The scan is shared, so one canceled evaluation must not abort it.
	scan := fs.importer.DiscoverFrames(context.WithoutCancel(ctx), fs.urls)
	f := future.Then(scan, exec, func(frames []Frame) ([]Frame, error) {
		if gen == fs.listGen {
			fs.SetListOfFrames(frames)
		}
		return frames, nil
	})

	fs.listing = f
	fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
	f.OnComplete(exec, func([]Frame, error) {
		if fs.listing.Same(f) {
			fs.listing = future.Future[[]Frame]{}
			fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
		}
	})
	return f
}

// SetListOfFrames replaces the frame list. Cached results stay valid for
// the leading frames that did not change.
func (fs *FileSource) SetListOfFrames(frames []Frame) {
	old := fs.frames
	remaining := timeline.Infinite()

	if len(frames) < len(old) {
		remaining = remaining.Intersect(fs.timesBefore(len(frames)))
	}
	// The last old frame was valid up to +inf; appended frames claim that range.
	if len(frames) > len(old) {
		remaining = remaining.Intersect(fs.timesBefore(len(old)))
	}
	for i := 0; i < len(old) && i < len(frames); i++ {
		if !frames[i].Equal(old[i]) {
			remaining = remaining.Intersect(fs.timesBefore(i))
			break
		}
	}

	if fs.dataFrame >= 0 {
		if fs.dataFrame >= len(frames) || (fs.dataFrame < len(old) && !frames[fs.dataFrame].Equal(old[fs.dataFrame])) {
			fs.dataFrame = -1
		}
	}

	fs.frames = slices.Clone(frames)
	fs.listed = true
	fs.frameLabels = nil

	fs.InvalidatePipelineCache(remaining)
	fs.NotifyDependents(refgraph.TargetChangedEvent(remaining))
	fs.NotifyDependents(refgraph.NewEvent(refgraph.AnimationFramesChanged))

	if fs.isNewFile {
		for i, f := range fs.frames {
			if f.FileName() != fs.originallySelected {
				continue
			}
			t := fs.SourceFrameToAnimationTime(i)
			settings := fs.Dataset().AnimationSettings()
			if settings.AnimationInterval().Contains(t) {
				settings.SetTime(t)
			}
			break
		}
	}

	fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
}

// timesBefore returns the animation times shown before source frame. The
// first frame also covers all earlier times, so nothing lies before it.
func (fs *FileSource) timesBefore(frame int) timeline.TimeInterval {
	if frame <= 0 {
		return timeline.Empty()
	}
	return timeline.Interval(timeline.TimeNegativeInfinity, fs.SourceFrameToAnimationTime(frame)-1)
}

// NumberOfSourceFrames returns the number of discovered frames.
func (fs *FileSource) NumberOfSourceFrames() int { return len(fs.frames) }

// AnimationTimeToSourceFrame maps an animation time to the source frame
// shown at that time, honoring the playback rate and start frame.
func (fs *FileSource) AnimationTimeToSourceFrame(t timeline.TimePoint) int {
	animFrame := fs.Dataset().AnimationSettings().TimeToFrame(t)
	return (animFrame - fs.playbackStart) * max(1, fs.playbackNum) / max(1, fs.playbackDen)
}

// SourceFrameToAnimationTime returns the first animation time at which a
// source frame is shown. AnimationTimeToSourceFrame maps that time back to
// the same frame as long as the playback ratio does not exceed one. Faster
// playback skips source frames, and a skipped frame maps to the time of the
// next frame that is shown.
func (fs *FileSource) SourceFrameToAnimationTime(frame int) timeline.TimePoint {
	animFrame := ceilDiv(frame*max(1, fs.playbackDen), max(1, fs.playbackNum)) + fs.playbackStart
	return fs.Dataset().AnimationSettings().FrameToTime(animFrame)
}

// ceilDiv divides a by the positive divisor b, rounding up.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return a / b
	}
	return (a + b - 1) / b
}

// FrameTimeInterval returns the animation time span during which frame is
// shown. The first frame extends to -inf and the last one to +inf.
func (fs *FileSource) FrameTimeInterval(frame int) timeline.TimeInterval {
	iv := timeline.Infinite()
	if frame > 0 {
		iv = iv.WithStart(fs.SourceFrameToAnimationTime(frame))
	}
	if frame < len(fs.frames)-1 {
		iv = iv.WithEnd(max(fs.SourceFrameToAnimationTime(frame+1)-1, fs.SourceFrameToAnimationTime(frame)))
	}
	return iv
}

// AnimationFrameLabels maps animation frames to the labels of the source
// frames, up to the first frame without a label.
func (fs *FileSource) AnimationFrameLabels() map[int]string {
	if fs.frameLabels == nil {
		settings := fs.Dataset().AnimationSettings()
		labels := make(map[int]string)
		for i, f := range fs.frames {
			if f.Label == "" {
				break
			}
			labels[settings.TimeToFrame(fs.SourceFrameToAnimationTime(i))] = f.Label
		}
		fs.frameLabels = labels
	}
	return maps.Clone(fs.frameLabels)
}

// PlaybackSpeedNumerator returns the numerator of the playback rate.
func (fs *FileSource) PlaybackSpeedNumerator() int { return fs.playbackNum }

// SetPlaybackSpeedNumerator sets how many source frames are skipped per
// animation frame. Values below 1 are raised to 1.
func (fs *FileSource) SetPlaybackSpeedNumerator(n int) {
	n = max(1, n)
	if n == fs.playbackNum {
		return
	}
	fs.playbackNum = n
	fs.playbackChanged(false)
}

// PlaybackSpeedDenominator returns the denominator of the playback rate.
func (fs *FileSource) PlaybackSpeedDenominator() int { return fs.playbackDen }

// SetPlaybackSpeedDenominator sets how many animation frames show one
// source frame. Values below 1 are raised to 1.
func (fs *FileSource) SetPlaybackSpeedDenominator(d int) {
	d = max(1, d)
	if d == fs.playbackDen {
		return
	}
	fs.playbackDen = d
	fs.playbackChanged(false)
}

// PlaybackStartTime returns the animation frame showing source frame 0.
func (fs *FileSource) PlaybackStartTime() int { return fs.playbackStart }

// SetPlaybackStartTime sets the animation frame showing source frame 0.
func (fs *FileSource) SetPlaybackStartTime(frame int) {
	if frame == fs.playbackStart {
		return
	}
	fs.playbackStart = frame
	fs.playbackChanged(true)
}

// playbackChanged invalidates frames whose time span moved. A rate change
// keeps the time source frame 0 is shown at.
func (fs *FileSource) playbackChanged(startChanged bool) {
	fs.frameLabels = nil
	unchanged := timeline.Instant(fs.SourceFrameToAnimationTime(0))
	if startChanged {
		unchanged = timeline.Empty()
	}
	fs.InvalidatePipelineCache(unchanged)
	fs.NotifyDependents(refgraph.TargetChangedEvent(unchanged))
	fs.NotifyDependents(refgraph.NewEvent(refgraph.AnimationFramesChanged))
}

// EvaluateInternal loads the source frame shown at req.Time, clamped to
// the range of known frames.
func (fs *FileSource) EvaluateInternal(ctx context.Context, req pipeline.Request) pipeline.StateFuture {
	list := fs.requestFrameList(ctx, false)
	return future.ThenFuture(list, fs.Dataset().Executor(), func(frames []Frame) pipeline.StateFuture {
		frame := fs.AnimationTimeToSourceFrame(req.Time)
		if frame < 0 {
			frame = 0
		} else if n := len(frames); n > 0 && frame >= n {
			frame = n - 1
		}
		return fs.RequestFrame(ctx, frame)
	})
}

// EvaluateSynchronous returns the cached state for t or the data of the
// current frame.
func (fs *FileSource) EvaluateSynchronous(t timeline.TimePoint) flowstate.PipelineFlowState {
	if st, ok := fs.Cache().Lookup(t); ok {
		return st
	}
	if fs.data.Data().Len() > 0 {
		return fs.data
	}
	return fs.CachingPipelineObject.EvaluateSynchronous(t)
}

// RequestFrame loads a source frame. Failures do not fail the future:
// they produce an Error state carrying the current data.
func (fs *FileSource) RequestFrame(ctx context.Context, frame int) pipeline.StateFuture {
	exec := fs.Dataset().Executor()
	list := fs.requestFrameList(ctx, false)

	loaded := future.ThenFuture(list, exec, func(frames []Frame) pipeline.StateFuture {
		if frame < 0 || frame >= len(frames) {
			return future.Ready(fs.outOfRangeState(frame, len(frames)))
		}
		return fs.loadFrame(ctx, frame, frames[frame])
	})

	return future.Handle(loaded, exec, func(st flowstate.PipelineFlowState, err error) (flowstate.PipelineFlowState, error) {
		if err == nil {
			return st, nil
		}
		if perrors.IsCanceled(err) {
			return st, err
		}
		fs.Dataset().Logger().Warn("Failed to load frame",
			zap.String("node", fs.ID().String()),
			zap.Int("frame", frame),
			zap.Error(err))
		return fs.failedState(err, frame), nil
	})
}

func (fs *FileSource) outOfRangeState(frame, count int) flowstate.PipelineFlowState {
	iv := timeline.Infinite()
	msg := fmt.Sprintf("Requested source frame index %d is out of range.", frame)
	switch {
	case count == 0:
		msg = "The file source path is empty or has not been set (no files found)."
	case frame < 0:
		iv = iv.WithEnd(fs.SourceFrameToAnimationTime(0) - 1)
	default:
		iv = iv.WithStart(fs.SourceFrameToAnimationTime(count))
	}
	st := fs.data.Copy()
	st.SetStatus(flowstate.NewStatus(flowstate.StatusError, msg))
	st.SetStateValidity(iv)
	return st
}

func (fs *FileSource) failedState(err error, frame int) flowstate.PipelineFlowState {
	st := fs.data.Copy()
	st.SetStatus(flowstate.NewStatus(flowstate.StatusError, "File source reported: "+describe(err)))
	st.SetStateValidity(timeline.Instant(fs.SourceFrameToAnimationTime(frame)))
	return st
}

// describe formats err for a status message.
func describe(err error) string {
	if e, ok := err.(*perrors.Error); ok {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

func (fs *FileSource) loadFrame(ctx context.Context, frame int, info Frame) pipeline.StateFuture {
	exec := fs.Dataset().Executor()
	interval := fs.FrameTimeInterval(frame)

	load := fs.importer.LoadFrame(ctx, info)
	fs.activeLoaders++
	if fs.activeLoaders == 1 {
		fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
	}
	load.OnComplete(exec, func(FrameData, error) {
		fs.activeLoaders--
		if fs.activeLoaders == 0 {
			fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
		}
	})

	return future.Then(load, exec, func(data FrameData) (flowstate.PipelineFlowState, error) {
		return fs.handOver(data, frame, info, interval)
	})
}

// handOver folds loaded frame data into a new state. When the frame is the
// one shown at the current animation time, that state also becomes the
// data of the source.
func (fs *FileSource) handOver(data FrameData, frame int, info Frame, interval timeline.TimeInterval) (flowstate.PipelineFlowState, error) {
	if data == nil {
		return flowstate.PipelineFlowState{}, fmt.Errorf("importer returned no data for frame %d", frame)
	}
	current := interval.Contains(fs.Dataset().AnimationSettings().Time())

	st := fs.data.Copy()
	st.SetStatus(flowstate.Success)
	st.SetStateValidity(interval)

	fs.handOverInProgress = true
	defer func() { fs.handOverInProgress = false }()

	if err := data.HandOver(&st, fs.isNewFile); err != nil {
		st.Release()
		return flowstate.PipelineFlowState{}, err
	}
	fs.isNewFile = false
	st.SetAttribute(flowstate.AttrSourceFrame, frame)
	st.SetAttribute(flowstate.AttrSourceFile, displayURL(info.SourceFile))
	st.SetStatus(data.Status())
	st.SetStateValidity(interval)

	if current {
		fs.setData(st.Copy())
		fs.setDataFrame(frame)
		fs.NotifyDependents(refgraph.NewEvent(refgraph.PreliminaryStateAvailable))
	}
	return st, nil
}

func displayURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if transport.IsLocal(u) {
		return transport.LocalPath(u)
	}
	return u.Redacted()
}

// setData makes st the data of the source and announces the new collection.
// The previous state may still be borrowed, so its share is not released.
func (fs *FileSource) setData(st flowstate.PipelineFlowState) {
	fs.data = st
	_ = fs.SetLink("data", st.Data())
	st.Data().NotifyTargetChanged()
}

// ReferenceReplaced is a no-op: replacing the data collection is announced
// by setData.
func (fs *FileSource) ReferenceReplaced(string, refgraph.Object, refgraph.Object) {}

func (fs *FileSource) setDataFrame(frame int) {
	if frame == fs.dataFrame {
		return
	}
	fs.dataFrame = frame
	fs.NotifyDependents(refgraph.NewEvent(refgraph.ObjectStatusChanged))
	fs.NotifyDependents(refgraph.NewEvent(refgraph.TitleChanged))
}

// EditData modifies the data of the source in place. Cached results keep
// their validity but receive the edited data; downstream stages recompute.
func (fs *FileSource) EditData(edit func(st *flowstate.PipelineFlowState) error) error {
	st := fs.data.Copy()
	if err := edit(&st); err != nil {
		st.Release()
		return err
	}
	fs.setData(st)
	return nil
}

// ReloadFrame discards loaded data so that it is read again on the next
// request. A negative index reloads every frame. With refetch, remote
// files are downloaded again.
func (fs *FileSource) ReloadFrame(refetch bool, frame int) {
	if fs.importer == nil {
		return
	}
	if refetch {
		if frame >= 0 && frame < len(fs.frames) {
			fs.importer.RemoveFromCache(fs.frames[frame].SourceFile)
		} else if frame < 0 {
			for _, f := range fs.frames {
				fs.importer.RemoveFromCache(f.SourceFile)
			}
		}
	}

	unchanged := timeline.Empty()
	if frame > 0 {
		unchanged = timeline.Interval(timeline.TimeNegativeInfinity, fs.FrameTimeInterval(frame-1).End())
	}
	fs.InvalidatePipelineCache(unchanged)
	fs.NotifyDependents(refgraph.TargetChangedEvent(unchanged))
}

// ReferenceEvent treats a change of the data collection outside of a frame
// hand-over as an edit of the current data.
func (fs *FileSource) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	if ev.Kind == refgraph.TargetChanged && refgraph.Same(source, fs.data.Data()) {
		if fs.handOverInProgress {
			return false
		}
		fs.Cache().Override(fs.data.Data())
		fs.NotifyDependents(refgraph.NewEvent(refgraph.PreliminaryStateAvailable))
		return fs.PipelineObjectBase.ReferenceEvent(source, ev)
	}
	return fs.CachingPipelineObject.ReferenceEvent(source, ev)
}
