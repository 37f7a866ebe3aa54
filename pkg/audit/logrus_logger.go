package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes each event as a structured log line
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates a log-line sink
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log implements Logger. Warning severity is logged at warn, everything else at info.
func (l *LogrusLogger) Log(_ context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event.normalize()

	entry := l.logger.WithFields(logrus.Fields{
		"audit":          true,
		"kind":           event.Kind,
		"tenant_id":      event.TenantID,
		"user_id":        event.UserID,
		"permission":     event.Permission,
		"result":         event.Result,
		"reason":         event.Reason,
		"correlation_id": event.CorrelationID,
	})
	if event.Source != "" {
		entry = entry.WithField("source", event.Source)
	}
	if event.IPAddress != "" {
		entry = entry.WithField("ip_address", event.IPAddress)
	}

	if event.Severity == SeverityWarning {
		entry.Warn("audit event")
	} else {
		entry.Info("audit event")
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	return nil
}
