package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AntonStoeckl/docstore-uow-go/docstore/oteladapters"
)

func newMeteredCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	return resourceMetrics
}

func Test_MetricsCollector_RecordDuration_RecordsSecondsWithLabels(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()

	// act
	collector.RecordDuration("docstore_query_duration_seconds", 150*time.Millisecond, map[string]string{
		"operation": "find",
		"status":    "success",
	})

	// assert
	histogram := findHistogramMetric(t, collect(t, reader), "docstore_query_duration_seconds")
	require.Len(t, histogram.DataPoints, 1)
	dataPoint := histogram.DataPoints[0]
	assert.Equal(t, uint64(1), dataPoint.Count)
	assert.InDelta(t, 0.15, dataPoint.Sum, 0.001)
	expected := attribute.NewSet(attribute.String("operation", "find"), attribute.String("status", "success"))
	assert.True(t, dataPoint.Attributes.Equals(&expected))
}

func Test_MetricsCollector_IncrementCounter_IsSafeForConcurrentUse(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()
	labels := map[string]string{"operation": "insert_one", "status": "error", "error_type": "duplicate_document"}
	var wg sync.WaitGroup

	// act
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.IncrementCounterContext(context.Background(), "docstore_query_errors_total", labels)
		}()
	}
	wg.Wait()

	// assert
	counter := findCounterMetric(t, collect(t, reader), "docstore_query_errors_total")
	require.Len(t, counter.DataPoints, 1)
	assert.Equal(t, int64(20), counter.DataPoints[0].Value)
	assert.True(t, counter.IsMonotonic)
}

func Test_MetricsCollector_RecordValue_KeepsTheLastValuePerLabelSet(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()
	labels := map[string]string{"operation": "save_changes"}

	// act
	collector.RecordValue("docstore_save_changes_commands", 3, labels)
	collector.RecordValue("docstore_save_changes_commands", 5, labels)

	// assert
	gauge := findGaugeMetric(t, collect(t, reader), "docstore_save_changes_commands")
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 5.0, gauge.DataPoints[0].Value, 0.0001)
}

func Test_MetricsCollector_ContextMethods_RecordLikeThePlainOnes(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()
	ctx := context.Background()

	// act
	collector.RecordDurationContext(ctx, "duration", time.Second, nil)
	collector.IncrementCounter("counter", nil)
	collector.IncrementCounterContext(ctx, "counter", nil)
	collector.RecordValueContext(ctx, "value", 7, nil)

	// assert
	metrics := collect(t, reader)
	assert.InDelta(t, 1.0, findHistogramMetric(t, metrics, "duration").DataPoints[0].Sum, 0.0001)
	assert.Equal(t, int64(2), findCounterMetric(t, metrics, "counter").DataPoints[0].Value)
	assert.InDelta(t, 7.0, findGaugeMetric(t, metrics, "value").DataPoints[0].Value, 0.0001)
}

func findHistogramMetric(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Histogram[float64] {
	t.Helper()

	data := findMetricData(t, resourceMetrics, name)
	histogram, ok := data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is not a float64 histogram", name)

	return histogram
}

func findCounterMetric(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()

	data := findMetricData(t, resourceMetrics, name)
	counter, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)

	return counter
}

func findGaugeMetric(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Gauge[float64] {
	t.Helper()

	data := findMetricData(t, resourceMetrics, name)
	gauge, ok := data.(metricdata.Gauge[float64])
	require.True(t, ok, "metric %s is not a float64 gauge", name)

	return gauge
}

func findMetricData(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Aggregation {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}

	t.Fatalf("metric %s not found", name)

	return nil
}
