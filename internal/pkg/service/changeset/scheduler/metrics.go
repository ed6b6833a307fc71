package scheduler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
)

const (
	claimResultClaimed     = "claimed"
	claimResultConflict    = "conflict"
	claimResultLockTimeout = "lock_timeout"
	claimResultLockError   = "lock_error"
	claimResultBusy        = "busy"
	claimResultEmpty       = "empty"
)

type metrics struct {
	claims       metric.Int64Counter
	dispatches   metric.Int64Counter
	reaped       metric.Int64Counter
	tickErrors   metric.Int64Counter
	tickDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	return &metrics{
		claims:       telemetry.Counter(meter, "changeset.scheduler.claims", "Claim attempts by result.", "1"),
		dispatches:   telemetry.Counter(meter, "changeset.scheduler.dispatches", "Processed change sets by result status.", "1"),
		reaped:       telemetry.Counter(meter, "changeset.scheduler.reaped", "Change sets modified by the reaper by target status.", "1"),
		tickErrors:   telemetry.Counter(meter, "changeset.scheduler.tick.errors", "Failed scheduler ticks.", "1"),
		tickDuration: telemetry.DurationHistogram(meter, "changeset.scheduler.tick.duration", "Duration of a scheduler tick."),
	}
}

func (m *metrics) claim(ctx context.Context, result string) {
	m.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metrics) dispatch(ctx context.Context, status string) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *metrics) reap(ctx context.Context, status string, count int64) {
	if count > 0 {
		m.reaped.Add(ctx, count, metric.WithAttributes(attribute.String("status", status)))
	}
}
