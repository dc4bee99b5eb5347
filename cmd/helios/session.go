package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	natsconn "github.com/wehubfusion/Helios/internal/nats"
	"github.com/wehubfusion/Helios/internal/tracing"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/config"
	"github.com/wehubfusion/Helios/pkg/events"
	"github.com/wehubfusion/Helios/pkg/fileio"
	"github.com/wehubfusion/Helios/pkg/formats/xyz"
	"github.com/wehubfusion/Helios/pkg/metrics"
	"github.com/wehubfusion/Helios/pkg/modifiers/expression"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// session holds the services of one command invocation.
type session struct {
	cfg    *config.Config
	logger *zap.Logger

	dataset  *pipeline.Dataset
	tasks    *concurrency.TaskManager
	router   *transport.Router
	importer *fileio.Importer
	pool     *expression.VMPool
	listener *events.Listener
	sentry   *events.SentrySink

	closers []func(context.Context) error
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	s := &session{cfg: cfg, logger: logger}
	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) start(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		s.serveMetrics(reg)
	}

	shutdownTracing, err := tracing.SetupTracing(ctx, cfg.Tracing, logger.Named("tracing"))
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error {
		return tracing.ShutdownTracing(shutdownTracing, shutdownTimeout, logger)
	})

	tm, err := concurrency.NewTaskManager(cfg.WorkerConfig(), logger.Named("tasks"), m)
	if err != nil {
		return err
	}
	s.tasks = tm
	s.closers = append(s.closers, tm.Shutdown)

	defaults, err := cfg.UserDefaults()
	if err != nil {
		return err
	}
	s.dataset, err = pipeline.NewDataset(logger,
		pipeline.WithTaskManager(tm),
		pipeline.WithMetrics(m),
		pipeline.WithUserDefaults(defaults))
	if err != nil {
		return err
	}
	s.closers = append(s.closers, s.dataset.Close)

	s.router, err = transport.NewRouter(&cfg.Transport, logger.Named("transport"), m)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error { return s.router.Close() })
	if cfg.Azure.ConnectionString != "" {
		az, err := transport.NewAzureBlob(cfg.Azure.ConnectionString, logger.Named("azblob"))
		if err != nil {
			return err
		}
		s.router.Register(transport.SchemeAzureBlob, az)
	}

	s.importer, err = fileio.NewImporter(xyz.NewFormat(), s.router, tm, logger.Named("importer"))
	if err != nil {
		return err
	}

	s.pool, err = expression.NewVMPool(cfg.Expression)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error {
		s.pool.Close()
		return nil
	})

	sinks, err := s.eventSinks(ctx)
	if err != nil {
		return err
	}
	s.listener, err = events.NewListener(logger.Named("events"), sinks...)
	return err
}

func (s *session) eventSinks(ctx context.Context) ([]events.Sink, error) {
	sinks := []events.Sink{events.NewLogSink(s.logger.Named("pipeline"))}

	if s.cfg.NATS.Enabled {
		conn, err := natsconn.Connect(ctx, &s.cfg.NATS.ConnectionConfig, s.logger.Named("nats"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return natsconn.Close(conn) })
		pub, err := events.NewNATSPublisher(conn, s.cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
	}

	if s.cfg.Sentry.Enabled {
		sentry, err := events.NewSentrySink(s.cfg.Sentry.SentryConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
		}
		s.sentry = sentry
		s.closers = append(s.closers, func(context.Context) error {
			sentry.Flush(shutdownTimeout)
			return nil
		})
		sinks = append(sinks, sentry)
	}
	return sinks, nil
}

func (s *session) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: s.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", s.cfg.Metrics.Addr), zap.String("path", s.cfg.Metrics.Path))
	s.closers = append(s.closers, srv.Shutdown)
}

// reportError forwards err to Sentry when it is enabled.
func (s *session) reportError(err error) {
	if s.sentry != nil {
		s.sentry.CaptureError(err)
	}
}

// Close releases all services in reverse order of creation.
func (s *session) Close() {
	if s.listener != nil {
		_ = s.listener.SetTarget(nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	s.closers = nil
}

// openSource creates a file source for location and waits for frame
// discovery.
func (s *session) openSource(ctx context.Context, location string) (*fileio.FileSource, error) {
	u, err := transport.Parse(location)
	if err != nil {
		return nil, err
	}
	fs := fileio.NewFileSource(s.dataset)
	if err := s.dataset.AddPipeline(fs); err != nil {
		return nil, err
	}
	if _, err := fs.SetSource(ctx, []*url.URL{u}, s.importer, true).Wait(ctx, s.dataset.Executor()); err != nil {
		return nil, err
	}
	return fs, nil
}
