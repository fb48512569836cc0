package telemetry

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/orchardwallet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const ServiceName = "orchard-wallet"

// Telemetry owns the tracer provider handed to the wallet.
type Telemetry struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	endpoint string
}

// NewNoOpTelemetry returns telemetry that records nothing.
func NewNoOpTelemetry() *Telemetry {
	return &Telemetry{
		provider: noop.NewTracerProvider(),
		shutdown: func(context.Context) error { return nil },
	}
}

// NewTelemetry exports spans over OTLP/HTTP to endpoint (host:port). An
// empty endpoint yields no-op telemetry.
func NewTelemetry(ctx context.Context, endpoint string, version string) (*Telemetry, error) {
	if endpoint == "" {
		return NewNoOpTelemetry(), nil
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter for %s: %w", endpoint, err)
	}
	return newWithExporter(exporter, endpoint, version), nil
}

func newWithExporter(exporter sdktrace.SpanExporter, endpoint, version string) *Telemetry {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Debug(log.CLI, "Telemetry enabled", "endpoint", endpoint)
	return &Telemetry{provider: tp, shutdown: tp.Shutdown, endpoint: endpoint}
}

// TracerProvider returns the provider to pass into wallet.Config.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.provider
}

// Enabled reports whether spans are exported.
func (t *Telemetry) Enabled() bool {
	return t.endpoint != ""
}

// Close flushes pending spans and stops the exporter.
func (t *Telemetry) Close(ctx context.Context) error {
	if err := t.shutdown(ctx); err != nil {
		log.Warn(log.CLI, "Telemetry shutdown failed", "endpoint", t.endpoint, "err", err)
		return err
	}
	return nil
}
