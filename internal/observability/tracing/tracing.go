// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	appconfig "github.com/wolfman30/agenda-platform/internal/config"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Setup registers W3C propagators and, when enabled, an OTLP/gRPC exporter.
// The returned Shutdown is always non-nil.
func Setup(ctx context.Context, cfg *appconfig.Config) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context) error { return nil }
	if cfg == nil || !cfg.OTelEnabled {
		return noop, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTelEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return noop, fmt.Errorf("tracing: exporter: %w", err)
	}
	return install(sdktrace.WithBatcher(exp), cfg), nil
}

func install(processor sdktrace.TracerProviderOption, cfg *appconfig.Config) Shutdown {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.OTelServiceName),
		attribute.String("deployment.environment", cfg.Env),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.OTelSampleRatio)))),
		processor,
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

func sampleRatio(r float64) float64 {
	if r < 0 || r > 1 {
		return 1
	}
	return r
}
