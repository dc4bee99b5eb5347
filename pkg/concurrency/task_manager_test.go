package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/future"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T, workers int) *TaskManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxConcurrent = workers
	tm, err := NewTaskManager(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tm.Shutdown(context.Background()))
	})
	return tm
}

func TestNewTaskManagerRequiresLogger(t *testing.T) {
	_, err := NewTaskManager(nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestRunResolvesFuture(t *testing.T) {
	tm := newTestManager(t, 2)
	exec := future.NewExecutor(zap.NewNop())

	f := Run(tm, context.Background(), "square", func(ctx context.Context, p *Progress) (int, error) {
		p.SetMaximum(1)
		p.SetValue(1)
		return 7 * 7, nil
	})

	v, err := f.Wait(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, 49, v)
	assert.Eventually(t, func() bool { return tm.Stats().Succeeded == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunConvertsPanicToError(t *testing.T) {
	tm := newTestManager(t, 1)
	exec := future.NewExecutor(nil)

	f := Run(tm, context.Background(), "explode", func(ctx context.Context, p *Progress) (int, error) {
		panic("engine bug")
	})

	_, err := f.Wait(context.Background(), exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine bug")
}

func TestRunPropagatesErrors(t *testing.T) {
	tm := newTestManager(t, 1)
	boom := errors.New("parse failure")

	f := Run(tm, context.Background(), "parse", func(ctx context.Context, p *Progress) (string, error) {
		return "", boom
	})
	_, err := f.Wait(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Eventually(t, func() bool { return tm.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
}

func TestCancelingFutureCancelsWorker(t *testing.T) {
	tm := newTestManager(t, 1)
	started := make(chan struct{})
	stopped := make(chan struct{})

	f := Run(tm, context.Background(), "long", func(ctx context.Context, p *Progress) (int, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return 0, ctx.Err()
	})

	<-started
	f.Cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe cancellation")
	}
	_, err := f.Result()
	assert.ErrorIs(t, err, perrors.ErrCanceled)
}

func TestWorkersAreBounded(t *testing.T) {
	tm := newTestManager(t, 2)
	var active, peak atomic.Int32
	release := make(chan struct{})

	futures := make([]future.Future[int], 6)
	for i := range futures {
		futures[i] = Run(tm, context.Background(), "bounded", func(ctx context.Context, p *Progress) (int, error) {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			active.Add(-1)
			return 1, nil
		})
	}

	assert.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, f := range futures {
		_, err := f.Wait(context.Background(), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int64(2), tm.Limiter().Stats().PeakConcurrent)
}

func TestProgressHandlerReceivesText(t *testing.T) {
	tm := newTestManager(t, 1)
	updates := make(chan ProgressUpdate, 8)
	tm.SetProgressHandler(func(u ProgressUpdate) {
		select {
		case updates <- u:
		default:
		}
	})

	f := Run(tm, context.Background(), "report", func(ctx context.Context, p *Progress) (int, error) {
		p.SetText("Parsing file")
		return 0, nil
	})
	_, err := f.Wait(context.Background(), nil)
	require.NoError(t, err)

	u := <-updates
	assert.Equal(t, "report", u.Name)
	assert.Equal(t, "Parsing file", u.Text)
	assert.NotEmpty(t, u.TaskID)
}

func TestRunAfterShutdownFails(t *testing.T) {
	tm, err := NewTaskManager(nil, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, tm.Shutdown(context.Background()))

	f := Run(tm, context.Background(), "late", func(ctx context.Context, p *Progress) (int, error) {
		return 1, nil
	})
	_, err = f.Result()
	assert.ErrorIs(t, err, ErrShutdown)
}
