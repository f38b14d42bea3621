// Package telemetry boots the OTLP trace pipeline for the code emission
// runtime. Builds and finalize batches open spans against the provider
// returned here; with no endpoint configured nothing is exported and
// span creation stays no-op cheap.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/jitrt/common"
	"github.com/colorfulnotion/jitrt/log"
)

const shutdownTimeout = 5 * time.Second

// Provider wraps one configured tracer provider and its shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init connects an OTLP/HTTP exporter to the given collector endpoint
// (host:port, no scheme) and installs the provider process-wide. The
// service is identified by name and the source commit.
func Init(ctx context.Context, endpoint string, serviceName string) (*Provider, error) {
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter for %s: %w", endpoint, err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", common.GetCommitHash()),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(log.BuildMonitoring, "telemetry enabled", "endpoint", endpoint, "service", serviceName)
	return &Provider{tp: tp}, nil
}

// TracerProvider exposes the provider for components that take one
// explicitly rather than through the global.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
