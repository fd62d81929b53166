package dbcontext

import (
	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Option defines a functional option for configuring DBContext.
type Option func(*DBContext) error

// WithLogger sets the logger for the DBContext.
//
// Debug level: every executed command
// Info level: save changes and transaction outcomes with durations (production-safe)
// Warn level: swallowed abort failures
// Error level: failed commands and commits.
func WithLogger(logger docstore.Logger) Option {
	return func(c *DBContext) error {
		c.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the DBContext.
// It receives the same messages as the Logger, with the call's context for trace correlation.
func WithContextualLogger(logger docstore.ContextualLogger) Option {
	return func(c *DBContext) error {
		c.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the DBContext.
// It receives save changes durations, executed command counts and transaction outcomes.
func WithMetrics(collector docstore.MetricsCollector) Option {
	return func(c *DBContext) error {
		c.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the DBContext.
// Spans are created for SaveChanges and CommitTransaction.
func WithTracing(collector docstore.TracingCollector) Option {
	return func(c *DBContext) error {
		c.tracingCollector = collector
		return nil
	}
}
