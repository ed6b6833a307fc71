package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelPrometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricSdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// NewPrometheusMeterProvider creates a meter provider exported in the Prometheus format.
// The returned handler serves the metrics endpoint.
func NewPrometheusMeterProvider() (metric.MeterProvider, http.Handler, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := otelPrometheus.New(otelPrometheus.WithRegisterer(registry), otelPrometheus.WithoutScopeInfo())
	if err != nil {
		return nil, nil, errors.PrefixError(err, "cannot create prometheus exporter")
	}

	provider := metricSdk.NewMeterProvider(metricSdk.WithReader(exporter))
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return provider, handler, nil
}
