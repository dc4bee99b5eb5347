// Package anim keeps the global animation settings of a dataset: the mapping
// between animation frames and time ticks, the current time and the active
// animation interval.
package anim

import (
	"maps"

	"github.com/wehubfusion/Helios/pkg/refgraph"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"go.uber.org/zap"
)

// DefaultTicksPerFrame gives ten frames per second.
const DefaultTicksPerFrame = timeline.TicksPerSecond / 10

// FrameProvider is implemented by pipeline objects that expose a sequence of
// source frames.
type FrameProvider interface {
	refgraph.Object
	NumberOfSourceFrames() int
	SourceFrameToAnimationTime(frame int) timeline.TimePoint
	AnimationFrameLabels() map[int]string
}

var settingsFields = []refgraph.FieldDescriptor{
	{Name: "pipelines", Vector: true, Clone: refgraph.CloneNever, NoPropagation: true},
}

// Settings holds the animation parameters of a dataset and watches the
// pipelines of the scene for changes of their frame count.
type Settings struct {
	refgraph.Node

	logger        *zap.Logger
	ticksPerFrame int
	time          timeline.TimePoint
	interval      timeline.TimeInterval
	playbackSpeed int
	loopPlayback  bool
	autoAdjust    bool
	namedFrames   map[int]string
}

// NewSettings creates animation settings with ten frames per second and an
// interval containing only frame 0.
func NewSettings(logger *zap.Logger) *Settings {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Settings{
		logger:        logger,
		ticksPerFrame: DefaultTicksPerFrame,
		interval:      timeline.Instant(0),
		playbackSpeed: 1,
		loopPlayback:  true,
		autoAdjust:    true,
		namedFrames:   map[int]string{},
	}
	s.Init(s, settingsFields...)
	return s
}

// TicksPerFrame returns the number of time ticks per animation frame.
func (s *Settings) TicksPerFrame() int { return s.ticksPerFrame }

// SetTicksPerFrame changes the playback rate.
func (s *Settings) SetTicksPerFrame(tpf int) {
	if tpf <= 0 || tpf == s.ticksPerFrame {
		return
	}
	s.ticksPerFrame = tpf
	s.NotifyTargetChanged()
}

// FramesPerSecond returns the playback rate in frames per second.
func (s *Settings) FramesPerSecond() int { return timeline.TicksPerSecond / s.ticksPerFrame }

// SetFramesPerSecond sets the playback rate. Only divisors of the tick rate are exact.
func (s *Settings) SetFramesPerSecond(fps int) {
	if fps <= 0 {
		return
	}
	s.SetTicksPerFrame(timeline.TicksPerSecond / fps)
}

// FrameToTime returns the time at which an animation frame begins.
func (s *Settings) FrameToTime(frame int) timeline.TimePoint {
	return timeline.TimePoint(frame * s.ticksPerFrame)
}

// TimeToFrame returns the animation frame containing t.
func (s *Settings) TimeToFrame(t timeline.TimePoint) int {
	return int(t) / s.ticksPerFrame
}

// SnapTime rounds t to the closest frame time.
func (s *Settings) SnapTime(t timeline.TimePoint) timeline.TimePoint {
	half := s.ticksPerFrame / 2
	if t < 0 {
		half = -half
	}
	return s.FrameToTime(s.TimeToFrame(t + timeline.TimePoint(half)))
}

// Time returns the current animation time.
func (s *Settings) Time() timeline.TimePoint { return s.time }

// SetTime changes the current animation time.
func (s *Settings) SetTime(t timeline.TimePoint) {
	if t == s.time {
		return
	}
	s.time = t
	s.NotifyTargetChanged()
}

// CurrentFrame returns the animation frame at the current time.
func (s *Settings) CurrentFrame() int { return s.TimeToFrame(s.time) }

// SetCurrentFrame jumps to the given animation frame.
func (s *Settings) SetCurrentFrame(frame int) { s.SetTime(s.FrameToTime(frame)) }

// AnimationInterval returns the active animation interval.
func (s *Settings) AnimationInterval() timeline.TimeInterval { return s.interval }

// SetAnimationInterval replaces the active animation interval.
func (s *Settings) SetAnimationInterval(iv timeline.TimeInterval) {
	if iv == s.interval {
		return
	}
	s.interval = iv
	s.NotifyTargetChanged()
}

// FirstFrame returns the first frame of the animation interval.
func (s *Settings) FirstFrame() int { return s.TimeToFrame(s.interval.Start()) }

// LastFrame returns the last frame of the animation interval.
func (s *Settings) LastFrame() int { return s.TimeToFrame(s.interval.End()) }

// PlaybackSpeed returns the playback speed factor.
func (s *Settings) PlaybackSpeed() int { return s.playbackSpeed }

// SetPlaybackSpeed sets the playback speed factor. Values below one are ignored.
func (s *Settings) SetPlaybackSpeed(speed int) {
	if speed >= 1 {
		s.playbackSpeed = speed
	}
}

// LoopPlayback reports whether playback wraps around at the interval end.
func (s *Settings) LoopPlayback() bool { return s.loopPlayback }

// SetLoopPlayback enables or disables looping.
func (s *Settings) SetLoopPlayback(loop bool) { s.loopPlayback = loop }

// AutoAdjustInterval reports whether the interval follows the scene's frame count.
func (s *Settings) AutoAdjustInterval() bool { return s.autoAdjust }

// SetAutoAdjustInterval enables or disables automatic interval adjustment.
// Enabling it adjusts the interval right away.
func (s *Settings) SetAutoAdjustInterval(on bool) {
	if on == s.autoAdjust {
		return
	}
	s.autoAdjust = on
	if on {
		s.AdjustAnimationInterval()
	}
}

// NamedFrames returns the labels assigned to animation frames.
func (s *Settings) NamedFrames() map[int]string { return maps.Clone(s.namedFrames) }

// AddPipeline registers a pipeline whose frames the animation interval covers.
func (s *Settings) AddPipeline(p FrameProvider) error {
	if err := s.InsertLink("pipelines", -1, p); err != nil {
		return err
	}
	if s.autoAdjust {
		s.AdjustAnimationInterval()
	}
	return nil
}

// RemovePipeline unregisters a pipeline.
func (s *Settings) RemovePipeline(p FrameProvider) {
	s.ClearReferencesTo(p)
	if s.autoAdjust {
		s.AdjustAnimationInterval()
	}
}

// Pipelines returns the registered pipelines.
func (s *Settings) Pipelines() []FrameProvider {
	links := s.Links("pipelines")
	out := make([]FrameProvider, 0, len(links))
	for _, l := range links {
		out = append(out, l.(FrameProvider))
	}
	return out
}

// AdjustAnimationInterval resizes the animation interval so that it covers
// the source frames of every registered pipeline, always including frame 0.
func (s *Settings) AdjustAnimationInterval() {
	interval := timeline.Empty()
	s.namedFrames = map[int]string{}

	for _, p := range s.Pipelines() {
		n := p.NumberOfSourceFrames()
		if n <= 0 {
			continue
		}
		start := p.SourceFrameToAnimationTime(0)
		end := p.SourceFrameToAnimationTime(n) - 1
		interval = interval.Union(timeline.Interval(start, end))

		for frame, label := range p.AnimationFrameLabels() {
			if _, exists := s.namedFrames[frame]; !exists {
				s.namedFrames[frame] = label
			}
		}
	}

	if interval.IsEmpty() {
		interval = timeline.Instant(0)
	} else {
		interval = timeline.Interval(
			min(0, s.FrameToTime(s.TimeToFrame(interval.Start()))),
			s.FrameToTime(s.TimeToFrame(interval.End())))
	}
	s.SetAnimationInterval(interval)

	if s.time < interval.Start() {
		s.SetTime(interval.Start())
	} else if s.time > interval.End() {
		s.SetTime(interval.End())
	}
	s.logger.Debug("animation interval adjusted",
		zap.Stringer("interval", interval),
		zap.Int("last_frame", s.LastFrame()))
}

// NextPlaybackTime returns the animation time following t during playback,
// wrapping around or stopping at the interval bounds. The second result is
// false when playback should stop.
func (s *Settings) NextPlaybackTime(t timeline.TimePoint) (timeline.TimePoint, bool) {
	next := s.FrameToTime(s.TimeToFrame(t) + s.playbackSpeed)
	iv := s.interval
	switch {
	case next > iv.End():
		if s.loopPlayback && iv.Duration() > 0 {
			return iv.Start(), true
		}
		return iv.End(), false
	case next < iv.Start():
		if s.loopPlayback && iv.Duration() > 0 {
			return iv.End(), true
		}
		return iv.Start(), false
	}
	return next, true
}

// ReferenceEvent readjusts the interval when a registered pipeline reports
// a change of its frame sequence.
func (s *Settings) ReferenceEvent(source refgraph.Object, ev refgraph.Event) bool {
	if (ev.Kind == refgraph.AnimationFramesChanged || ev.Kind == refgraph.PipelineChanged) && s.autoAdjust {
		s.AdjustAnimationInterval()
	}
	return false
}
