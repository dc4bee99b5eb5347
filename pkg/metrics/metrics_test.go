package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("hit")
		m.Evaluation("source", "success")
		m.TaskStarted()
		m.TaskFinished("success", time.Millisecond)
		m.TransportFetch("file", "success")
	})
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.CacheLookup("hit")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.TaskStarted()
	m.TaskFinished("error", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeTasks))

	_, err = New(reg)
	assert.Error(t, err, "registering twice must fail")
}
