// Package telemetry bootstraps OpenTelemetry tracing for Kestrel. Without
// an OTLP endpoint configured it installs a noop provider so callers can
// trace unconditionally.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kestrelhq/kestrel/pkg/version"
)

// endpointEnv is the standard OTLP exporter endpoint variable. Unset
// means tracing stays off.
const endpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Provider owns the tracer provider lifecycle.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init configures the global tracer provider. When no OTLP endpoint is
// set the returned provider is a noop and Shutdown does nothing.
func Init(ctx context.Context) (*Provider, error) {
	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(version.AppName)}, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(version.AppName),
		semconv.ServiceVersion(version.GitCommit),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdk)
	slog.InfoContext(ctx, "Tracing enabled", slog.String("endpoint", endpoint))

	return &Provider{sdk: sdk, tracer: sdk.Tracer(version.AppName)}, nil
}

// Tracer returns the application tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
