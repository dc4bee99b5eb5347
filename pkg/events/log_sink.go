package events

import (
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Invalidations are logged at debug
// level, errors and warnings at their own level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ev Event) error {
	fields := []zap.Field{
		zap.String("node", ev.NodeID),
		zap.String("title", ev.Title),
		zap.String("kind", string(ev.Kind)),
		zap.String("status", ev.Status),
	}
	if ev.Text != "" {
		fields = append(fields, zap.String("text", ev.Text))
	}
	if ev.Kind == KindChanged {
		s.logger.Debug("pipeline object changed", fields...)
		return nil
	}
	switch statusType(ev.Status) {
	case flowstate.StatusError:
		s.logger.Error("pipeline object reported an error", fields...)
	case flowstate.StatusWarning:
		s.logger.Warn("pipeline object reported a warning", fields...)
	default:
		s.logger.Info("pipeline object status", fields...)
	}
	return nil
}
