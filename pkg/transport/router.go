package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// CacheDir receives downloaded files. Empty means a temporary directory
	// that Close removes.
	CacheDir string `yaml:"cache_dir"`

	// BreakerThreshold is the number of consecutive failures after which a
	// remote scheme is rejected for BreakerResetTimeout.
	BreakerThreshold    int64         `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// Validate applies defaults to unset fields.
func (c *RouterConfig) Validate() {
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
}

// Router dispatches requests by URL scheme. Local files are served in
// place; remote files are downloaded once into the cache directory.
type Router struct {
	config  RouterConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	local   Local

	mu       sync.Mutex
	remotes  map[string]Remote
	breakers map[string]*concurrency.CircuitBreaker
	cache    map[string]string
	cacheDir string
	ownsDir  bool

	fetches singleflight.Group
}

// NewRouter creates a router that serves local files. Remote schemes are
// added with Register.
func NewRouter(config *RouterConfig, logger *zap.Logger, m *metrics.Metrics) (*Router, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config == nil {
		config = DefaultRouterConfig()
	}
	config.Validate()

	return &Router{
		config:   *config,
		logger:   logger,
		metrics:  m,
		remotes:  make(map[string]Remote),
		breakers: make(map[string]*concurrency.CircuitBreaker),
		cache:    make(map[string]string),
		cacheDir: config.CacheDir,
	}, nil
}

// Register serves scheme through remote.
func (r *Router) Register(scheme string, remote Remote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[scheme] = remote
	r.breakers[scheme] = concurrency.NewCircuitBreaker(r.config.BreakerThreshold, r.config.BreakerResetTimeout)
}

// Breaker returns the circuit breaker guarding scheme, or nil.
func (r *Router) Breaker(scheme string) *concurrency.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[scheme]
}

// FetchFile returns a local path for u. Concurrent fetches of the same
// remote file share one download.
func (r *Router) FetchFile(ctx context.Context, u *url.URL) (string, error) {
	tracer := otel.Tracer("helios/transport")
	ctx, span := tracer.Start(ctx, "transport.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("url", u.String()),
		attribute.String("scheme", u.Scheme),
	)

	localPath, outcome, err := r.fetch(ctx, u)
	r.metrics.TransportFetch(schemeLabel(u), outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	return localPath, nil
}

func (r *Router) fetch(ctx context.Context, u *url.URL) (string, string, error) {
	if IsLocal(u) {
		p, err := r.local.FetchFile(ctx, u)
		if err != nil {
			return "", "error", transportError("fetch", u, err)
		}
		return p, "local", nil
	}

	key := u.String()
	if p, ok := r.cached(key); ok {
		return p, "hit", nil
	}

	remote, breaker, err := r.remote(u)
	if err != nil {
		return "", "error", err
	}
	if err := breaker.Allow(); err != nil {
		return "", "rejected", transportError("fetch", u, err)
	}

	ch := r.fetches.DoChan(key, func() (any, error) {
		return r.download(ctx, remote, breaker, u, key)
	})
	select {
	case <-ctx.Done():
		return "", "canceled", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", "error", transportError("fetch", u, res.Err)
		}
		return res.Val.(string), "download", nil
	}
}

func (r *Router) download(ctx context.Context, remote Remote, breaker *concurrency.CircuitBreaker, u *url.URL, key string) (string, error) {
	// A download that finished since the caller's lookup.
	if p, ok := r.cached(key); ok {
		return p, nil
	}
	dst, err := r.cachePath(u)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	start := time.Now()
	n, err := remote.Download(ctx, u, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, fs.ErrNotExist) {
		// The backend answered; a missing file says nothing about its health.
		breaker.RecordSuccess()
		return "", err
	}
	breaker.Record(err)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move download into cache: %w", err)
	}

	r.mu.Lock()
	r.cache[key] = dst
	r.mu.Unlock()

	r.logger.Info("Fetched remote file",
		zap.String("url", key),
		zap.String("path", dst),
		zap.Int64("size_bytes", n),
		zap.Duration("elapsed", time.Since(start)))
	return dst, nil
}

// ListDirectory lists the files in the directory u.
func (r *Router) ListDirectory(ctx context.Context, u *url.URL) ([]Entry, error) {
	if IsLocal(u) {
		entries, err := r.local.ListDirectory(ctx, u)
		if err != nil {
			return nil, transportError("list", u, err)
		}
		return entries, nil
	}

	remote, breaker, err := r.remote(u)
	if err != nil {
		return nil, err
	}
	if err := breaker.Allow(); err != nil {
		return nil, transportError("list", u, err)
	}
	entries, err := remote.ListDirectory(ctx, u)
	breaker.Record(err)
	if err != nil {
		return nil, transportError("list", u, err)
	}
	return entries, nil
}

// RemoveFromCache drops the cached copy of u so that the next fetch
// downloads it again. It reports whether a copy was cached.
func (r *Router) RemoveFromCache(u *url.URL) bool {
	if IsLocal(u) {
		return false
	}
	key := u.String()
	r.mu.Lock()
	p, ok := r.cache[key]
	delete(r.cache, key)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("Failed to remove cached file", zap.String("path", p), zap.Error(err))
	}
	return true
}

// Close forgets all cached files and removes the cache directory if the
// router created it.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
	if r.ownsDir && r.cacheDir != "" {
		err := os.RemoveAll(r.cacheDir)
		r.cacheDir, r.ownsDir = "", false
		return err
	}
	return nil
}

func (r *Router) cached(key string) (string, bool) {
	r.mu.Lock()
	p, ok := r.cache[key]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
		return "", false
	}
	return p, true
}

func (r *Router) remote(u *url.URL) (Remote, *concurrency.CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remote, ok := r.remotes[u.Scheme]
	if !ok {
		return nil, nil, perrors.NewError(perrors.CodeTransport,
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme), perrors.ErrTransport)
	}
	return remote, r.breakers[u.Scheme], nil
}

func (r *Router) cachePath(u *url.URL) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheDir == "" {
		dir, err := os.MkdirTemp("", "helios-cache-*")
		if err != nil {
			return "", fmt.Errorf("failed to create cache directory: %w", err)
		}
		r.cacheDir, r.ownsDir = dir, true
	}
	rel := path.Join(u.Scheme, u.Host, path.Clean("/"+u.Path))
	return filepath.Join(r.cacheDir, filepath.FromSlash(rel)), nil
}

func transportError(op string, u *url.URL, err error) error {
	if perrors.IsCanceled(err) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return perrors.NewError(perrors.CodeTransport, fmt.Sprintf("failed to %s %s", op, Display(u)), err)
}

func schemeLabel(u *url.URL) string {
	if IsLocal(u) {
		return SchemeFile
	}
	return u.Scheme
}
