package postgresengine

import (
	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Option defines a functional option for configuring the Driver.
// Clients connected by the Driver inherit its observability settings.
type Option func(*Driver) error

// WithLogger sets the logger for the Driver.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: Document counts, durations, rows affected (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger docstore.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Driver.
// It receives the same messages as the Logger, with the call's context for trace correlation.
func WithContextualLogger(logger docstore.ContextualLogger) Option {
	return func(d *Driver) error {
		d.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Driver.
// It receives the duration of every collection operation and the number of failed ones.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(d *Driver) error {
		d.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Driver.
// Every collection operation and every transaction commit gets its own span.
func WithTracing(collector docstore.TracingCollector) Option {
	return func(d *Driver) error {
		d.tracingCollector = collector
		return nil
	}
}
