// Package pipeline implements lazily evaluated, cached pipelines. A pipeline
// is a chain of PipelineObjects: a source at the head followed by modifier
// applications. Evaluation is asynchronous; every result is a future that
// completes on the owning goroutine of the Dataset.
package pipeline

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Helios/pkg/anim"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/metrics"
	"go.uber.org/zap"
)

// UserDefaults supplies per-class parameter defaults, addressed by class
// name and property name. Objects read them once at construction.
type UserDefaults interface {
	Int(class, property string) (int, bool)
	Float(class, property string) (float64, bool)
	Bool(class, property string) (bool, bool)
	String(class, property string) (string, bool)
}

// Dataset bundles the services shared by all objects of one scene: the
// owning-goroutine executor, the worker pool, animation settings, logging,
// metrics and user defaults.
type Dataset struct {
	executor  *future.Executor
	tasks     *concurrency.TaskManager
	anim      *anim.Settings
	logger    *zap.Logger
	metrics   *metrics.Metrics
	defaults  UserDefaults
	delegates *DelegateRegistry
	ownTasks  bool
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithTaskManager uses an existing worker pool.
func WithTaskManager(tm *concurrency.TaskManager) Option {
	return func(d *Dataset) { d.tasks = tm }
}

// WithExecutor uses an existing owning-goroutine executor.
func WithExecutor(exec *future.Executor) Option {
	return func(d *Dataset) { d.executor = exec }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dataset) { d.metrics = m }
}

// WithUserDefaults installs a defaults provider.
func WithUserDefaults(u UserDefaults) Option {
	return func(d *Dataset) { d.defaults = u }
}

// NewDataset creates a dataset. Missing services are created with defaults.
func NewDataset(logger *zap.Logger, opts ...Option) (*Dataset, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	d := &Dataset{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	if d.executor == nil {
		d.executor = future.NewExecutor(logger.Named("executor"))
	}
	if d.tasks == nil {
		tm, err := concurrency.NewTaskManager(concurrency.LoadConfig(), logger.Named("tasks"), d.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create task manager: %w", err)
		}
		d.tasks = tm
		d.ownTasks = true
	}
	d.delegates = NewDelegateRegistry()
	d.anim = anim.NewSettings(logger.Named("anim"))
	if tpf, ok := d.UserDefault().Int("AnimationSettings", "ticksPerFrame"); ok && tpf > 0 {
		d.anim.SetTicksPerFrame(tpf)
	}
	return d, nil
}

// Executor returns the owning-goroutine executor.
func (d *Dataset) Executor() *future.Executor { return d.executor }

// Tasks returns the worker pool.
func (d *Dataset) Tasks() *concurrency.TaskManager { return d.tasks }

// AnimationSettings returns the animation settings.
func (d *Dataset) AnimationSettings() *anim.Settings { return d.anim }

// Delegates returns the registry of modifier delegates.
func (d *Dataset) Delegates() *DelegateRegistry { return d.delegates }

// Logger returns the dataset logger.
func (d *Dataset) Logger() *zap.Logger { return d.logger }

// Metrics returns the metrics sink, which may be nil.
func (d *Dataset) Metrics() *metrics.Metrics { return d.metrics }

// UserDefault returns the defaults provider. Without one, every lookup misses.
func (d *Dataset) UserDefault() UserDefaults {
	if d.defaults == nil {
		return noDefaults{}
	}
	return d.defaults
}

// AddPipeline registers a pipeline whose frames the animation interval covers.
func (d *Dataset) AddPipeline(p PipelineObject) error {
	return d.anim.AddPipeline(p)
}

// Wait blocks on f while running owning-goroutine callbacks.
func (d *Dataset) Wait(ctx context.Context, f future.Future[flowstate.PipelineFlowState]) (flowstate.PipelineFlowState, error) {
	return f.Wait(ctx, d.executor)
}

// Close stops the worker pool if the dataset created it.
func (d *Dataset) Close(ctx context.Context) error {
	if d.ownTasks {
		return d.tasks.Shutdown(ctx)
	}
	return nil
}

type noDefaults struct{}

func (noDefaults) Int(string, string) (int, bool)        { return 0, false }
func (noDefaults) Float(string, string) (float64, bool) { return 0, false }
func (noDefaults) Bool(string, string) (bool, bool)     { return false, false }
func (noDefaults) String(string, string) (string, bool) { return "", false }
