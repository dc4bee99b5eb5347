package concurrency

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProgressUpdate is a throttled snapshot of a task's progress.
type ProgressUpdate struct {
	TaskID  string
	Name    string
	Text    string
	Value   int64
	Maximum int64
}

// Progress is handed to worker functions for cooperative cancellation and
// progress reporting. Its methods may be called from the worker goroutine only.
type Progress struct {
	ctx    context.Context
	id     string
	name   string
	logger *zap.Logger

	value   atomic.Int64
	maximum atomic.Int64

	mu   sync.Mutex
	text string

	limiter *rate.Limiter
	report  func(ProgressUpdate)
}

func newProgress(ctx context.Context, id, name string, limiter *rate.Limiter, logger *zap.Logger, report func(ProgressUpdate)) *Progress {
	return &Progress{
		ctx:     ctx,
		id:      id,
		name:    name,
		limiter: limiter,
		logger:  logger,
		report:  report,
	}
}

// NewDetachedProgress creates a progress object that only observes ctx.
// Useful for running worker code inline.
func NewDetachedProgress(ctx context.Context) *Progress {
	return &Progress{ctx: ctx, logger: zap.NewNop(), limiter: rate.NewLimiter(rate.Inf, 1)}
}

// IsCanceled reports whether the task should stop.
func (p *Progress) IsCanceled() bool {
	return p.ctx.Err() != nil
}

// Context returns the task context.
func (p *Progress) Context() context.Context { return p.ctx }

// SetText sets the status text of the task.
func (p *Progress) SetText(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
	p.publish(true)
}

// Text returns the status text.
func (p *Progress) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// SetMaximum sets the number of steps of the current phase.
func (p *Progress) SetMaximum(n int64) {
	p.maximum.Store(n)
	p.value.Store(0)
}

// SetValue sets the completed step count. It returns false once the task was
// canceled, so loops can write `if !p.SetValue(i) { return }`.
func (p *Progress) SetValue(v int64) bool {
	p.value.Store(v)
	p.publish(false)
	return !p.IsCanceled()
}

// Increment advances the completed step count by delta.
func (p *Progress) Increment(delta int64) bool {
	p.value.Add(delta)
	p.publish(false)
	return !p.IsCanceled()
}

// Value returns the completed step count.
func (p *Progress) Value() int64 { return p.value.Load() }

// Maximum returns the number of steps.
func (p *Progress) Maximum() int64 { return p.maximum.Load() }

func (p *Progress) publish(force bool) {
	if !force && !p.limiter.Allow() {
		return
	}
	update := ProgressUpdate{
		TaskID:  p.id,
		Name:    p.name,
		Text:    p.Text(),
		Value:   p.value.Load(),
		Maximum: p.maximum.Load(),
	}
	p.logger.Debug("task progress",
		zap.String("task_id", update.TaskID),
		zap.String("task", update.Name),
		zap.Int64("value", update.Value),
		zap.Int64("maximum", update.Maximum))
	if p.report != nil {
		p.report(update)
	}
}
