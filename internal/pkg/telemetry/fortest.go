package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	metricSdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	traceSdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ForTest is telemetry which keeps spans and metrics in memory.
type ForTest interface {
	Telemetry
	Spans() tracetest.SpanStubs
	// Int64Sum returns the total of the counter with the name.
	// Only data points with all the attributes are summed, without attributes all points are summed.
	Int64Sum(t *testing.T, name string, attrs ...attribute.KeyValue) int64
}

type forTest struct {
	Telemetry
	spans  *tracetest.InMemoryExporter
	reader *metricSdk.ManualReader
}

func NewForTest(t *testing.T) ForTest {
	t.Helper()

	spans := tracetest.NewInMemoryExporter()
	reader := metricSdk.NewManualReader()
	tracerProvider := traceSdk.NewTracerProvider(traceSdk.WithSyncer(spans))
	meterProvider := metricSdk.NewMeterProvider(metricSdk.WithReader(reader))

	t.Cleanup(func() {
		_ = tracerProvider.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	})

	return &forTest{
		Telemetry: New(tracerProvider, meterProvider),
		spans:     spans,
		reader:    reader,
	}
}

func (v *forTest) Spans() tracetest.SpanStubs {
	return v.spans.GetSpans()
}

func (v *forTest) Int64Sum(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var data metricdata.ResourceMetrics
	require.NoError(t, v.reader.Collect(context.Background(), &data))

	total := int64(0)
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, point := range sum.DataPoints {
					if hasAttributes(point.Attributes, attrs) {
						total += point.Value
					}
				}
			}
		}
	}
	return total
}

func hasAttributes(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		if value, ok := set.Value(kv.Key); !ok || value.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}
