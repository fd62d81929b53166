// Package oteladapters provides OpenTelemetry implementations of the docstore observability interfaces.
//
// Wire them into any component that accepts observability options:
//
//	logger := oteladapters.NewSlogBridgeLogger("docstore")
//	metrics := oteladapters.NewMetricsCollector(otel.Meter("docstore"))
//	tracing := oteladapters.NewTracingCollector(otel.Tracer("docstore"))
//
//	driver, err := postgresengine.NewDriver(
//		postgresengine.WithContextualLogger(logger),
//		postgresengine.WithMetrics(metrics),
//		postgresengine.WithTracing(tracing),
//	)
//
// Instruments are created on first use and cached per metric name, so one collector can be shared
// by all contexts of a process.
package oteladapters
