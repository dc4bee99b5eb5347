package events

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/flowstate"
)

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	Release     string  `yaml:"release"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// SentrySink reports pipeline errors to Sentry. Events that do not carry an
// Error status are ignored.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink creates a sink with its own client. An empty DSN creates a
// client that drops every report.
func NewSentrySink(cfg SentryConfig, opts ...func(*sentry.ClientOptions)) (*SentrySink, error) {
	options := sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	}
	for _, o := range opts {
		o(&options)
	}
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, err
	}
	return &SentrySink{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *SentrySink) Send(ev Event) error {
	if ev.Kind == KindChanged || statusType(ev.Status) != flowstate.StatusError {
		return nil
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("node", ev.NodeID)
		scope.SetTag("title", ev.Title)
		scope.SetTag("kind", string(ev.Kind))
		s.hub.CaptureMessage(ev.Text)
	})
	return nil
}

// CaptureError reports err unless it is a cancellation or an invalid
// request, which are user errors rather than faults.
func (s *SentrySink) CaptureError(err error) bool {
	category := perrors.Classify(err)
	switch category {
	case "", perrors.CategoryCanceled, perrors.CategoryInvalid:
		return false
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		level := sentry.LevelError
		if category == perrors.CategoryTransient {
			level = sentry.LevelWarning
		}
		scope.SetLevel(level)
		scope.SetTag("category", string(category))
		var coded *perrors.Error
		if errors.As(err, &coded) {
			scope.SetTag("code", coded.Code)
		}
		s.hub.CaptureException(err)
	})
	return true
}

// Flush waits until buffered reports are sent.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
