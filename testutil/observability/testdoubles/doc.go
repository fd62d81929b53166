// Package testdoubles provides test doubles (spies) for the observability interfaces of the docstore packages.
//
//   - LogHandlerSpy: an slog.Handler capturing log records
//   - ContextualLoggerSpy: captures context-aware logging calls
//   - MetricsCollectorSpy: captures metrics recording calls
//   - TracingCollectorSpy: captures started and finished spans
//
// They allow verifying observability instrumentation without a telemetry backend.
package testdoubles
