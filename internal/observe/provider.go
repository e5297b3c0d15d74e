package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry owns the process-wide OpenTelemetry providers. Metrics are
// bridged into the default Prometheus registry, so everything recorded
// through [Metrics] shows up on the /metrics scrape endpoint. Spans stay
// in-process unless a span exporter is supplied.
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// TelemetryOption configures [Setup].
type TelemetryOption func(*telemetrySettings)

type telemetrySettings struct {
	serviceName    string
	serviceVersion string
	spanExporter   sdktrace.SpanExporter
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) TelemetryOption {
	return func(s *telemetrySettings) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) TelemetryOption {
	return func(s *telemetrySettings) { s.serviceVersion = version }
}

// WithSpanExporter attaches a span exporter, batching spans out of process.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(s *telemetrySettings) { s.spanExporter = exp }
}

// Setup builds the metric and trace providers and installs them as the
// global OTel providers. Call [Telemetry.Shutdown] from main on exit.
func Setup(opts ...TelemetryOption) (*Telemetry, error) {
	settings := telemetrySettings{serviceName: "avatarchat"}
	for _, opt := range opts {
		opt(&settings)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(settings.serviceName),
			semconv.ServiceVersion(settings.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if settings.spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(settings.spanExporter))
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(bridge),
		),
		traces: sdktrace.NewTracerProvider(traceOpts...),
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.meters.Shutdown(ctx),
		t.traces.Shutdown(ctx),
	)
}
