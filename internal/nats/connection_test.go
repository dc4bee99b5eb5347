package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &ConnectionConfig{URL: "nats://localhost:4222", MaxReconnects: -1}
	cfg.ApplyDefaults()
	assert.Equal(t, "helios", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, "helios.pipeline", cfg.SubjectPrefix)
}

func TestConnectRejectsBadConfig(t *testing.T) {
	_, err := Connect(context.Background(), nil, nil)
	assert.EqualError(t, err, "connection config cannot be nil")

	_, err = Connect(context.Background(), &ConnectionConfig{}, nil)
	assert.EqualError(t, err, "NATS URL cannot be empty")
}

func TestOptionsAuthentication(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://localhost:4222")
	base := len(cfg.Options(nil))

	cfg.Username, cfg.Password = "user", "secret"
	assert.Len(t, cfg.Options(nil), base+1)

	cfg.Token = "token"
	assert.Len(t, cfg.Options(nil), base+1, "token wins over user info")
}

func TestCloseNil(t *testing.T) {
	require.NoError(t, Close(nil))
	assert.False(t, IsConnected(nil))
}
