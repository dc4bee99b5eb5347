package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestValidate(t *testing.T) {
	cfg := DefaultConfig("helios")
	require.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.SampleRatio = 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("")
	cfg.Enabled = true
	assert.EqualError(t, cfg.Validate(), "tracing service name is required")
}

func TestDisabledSetupIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), DefaultConfig("helios"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, ShutdownTracing(shutdown, time.Second, nil))
}

func TestShutdownReportsErrors(t *testing.T) {
	boom := errors.New("flush failed")
	err := ShutdownTracing(func(context.Context) error { return boom }, time.Second, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ShutdownTracing(nil, time.Second, nil))
}
