// Package nats connects to the NATS server that receives pipeline status
// events.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectionConfig holds configuration for NATS connection
type ConnectionConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `yaml:"url"`

	// Name identifies this client on the server
	Name string `yaml:"name"`

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for unlimited reconnects
	MaxReconnects int `yaml:"max_reconnects"`

	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`

	// Token takes precedence over Username/Password
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// SubjectPrefix is prepended to every event subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConnectionConfig returns a configuration with sensible defaults
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:           url,
		Name:          "helios",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		SubjectPrefix: "helios.pipeline",
	}
}

// ApplyDefaults fills zero fields from DefaultConnectionConfig.
func (c *ConnectionConfig) ApplyDefaults() {
	def := DefaultConnectionConfig(c.URL)
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = def.MaxReconnects
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = def.ReconnectWait
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
}

// Options converts the configuration into connection options. Connection
// state changes are logged to logger.
func (c *ConnectionConfig) Options(logger *zap.Logger) []nats.Option {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	} else if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// Connect establishes a connection to NATS with the provided configuration
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if config == nil {
		return nil, errors.New("connection config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	opts := config.Options(logger)

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(config.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// Close drains conn, falling back to a hard close.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

// IsConnected checks if the connection is active
func IsConnected(conn *nats.Conn) bool {
	return conn != nil && conn.IsConnected()
}
