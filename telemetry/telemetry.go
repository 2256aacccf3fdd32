// Package telemetry sets up OpenTelemetry tracing for the ledger and router.
// Tracing is off unless an OTLP endpoint is configured.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const DefaultServiceName = "cartezcash"

// Span names
const (
	SpanApply       = "ledger.apply"
	SpanVerify      = "ledger.verify"
	SpanRoute       = "router.route"
	SpanCommitBlock = "store.commit_block"
)

// Config selects the OTLP/HTTP collector. An empty Endpoint disables tracing.
type Config struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// TelemetryClient owns the tracer provider for the lifetime of the process.
type TelemetryClient struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	disabled bool
}

// NewNoOpTelemetryClient creates a disabled client whose spans are discarded.
func NewNoOpTelemetryClient() *TelemetryClient {
	return &TelemetryClient{
		provider: noop.NewTracerProvider(),
		shutdown: func(context.Context) error { return nil },
		disabled: true,
	}
}

// NewTelemetryClient exports spans in batches to the configured collector.
func NewTelemetryClient(ctx context.Context, cfg Config) (*TelemetryClient, error) {
	if cfg.Endpoint == "" {
		return NewNoOpTelemetryClient(), nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp exporter for %s: %w", cfg.Endpoint, err)
	}
	return newSDKClient(cfg.ServiceName, sdktrace.WithBatcher(exporter)), nil
}

// NewSyncTelemetryClient exports every span synchronously to exporter as it
// ends. Tests pair it with an in-memory exporter.
func NewSyncTelemetryClient(exporter sdktrace.SpanExporter) *TelemetryClient {
	return newSDKClient(DefaultServiceName, sdktrace.WithSyncer(exporter))
}

func newSDKClient(service string, export sdktrace.TracerProviderOption) *TelemetryClient {
	if service == "" {
		service = DefaultServiceName
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	return &TelemetryClient{provider: tp, shutdown: tp.Shutdown}
}

// Disabled reports whether spans are discarded.
func (c *TelemetryClient) Disabled() bool {
	return c.disabled
}

// Tracer returns a named tracer from this client's provider.
func (c *TelemetryClient) Tracer(name string) trace.Tracer {
	return c.provider.Tracer(name)
}

// Install makes this client's provider the global one used by otel.Tracer.
func (c *TelemetryClient) Install() {
	otel.SetTracerProvider(c.provider)
}

// Close flushes pending spans and stops the exporter.
func (c *TelemetryClient) Close(ctx context.Context) error {
	return c.shutdown(ctx)
}

// Tracer returns a tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
