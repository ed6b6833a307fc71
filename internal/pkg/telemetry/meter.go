package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// DurationBucketsMs are histogram boundaries for durations in milliseconds, from 1ms to 5 minutes.
var DurationBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000}

// Counter creates a monotonic counter, it panics on an invalid definition.
func Counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		panic(err)
	}
	return counter
}

// DurationHistogram creates a histogram of durations in milliseconds.
func DurationHistogram(meter metric.Meter, name, desc string) metric.Float64Histogram {
	histogram, err := meter.Float64Histogram(
		name,
		metric.WithDescription(desc),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(DurationBucketsMs...),
	)
	if err != nil {
		panic(err)
	}
	return histogram
}
