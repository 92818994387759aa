// Package traces configures OpenTelemetry tracing.
package traces

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "handshake"

// Init sets up the global tracer provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing stays on the default no-op provider and
// the returned shutdown func is a no-op.
func Init(ctx context.Context, endpoint, env string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("0.1.0"),
		semconv.DeploymentEnvironment(env),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the platform tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// StartEscrowSpan opens a span for an escrow operation.
func StartEscrowSpan(ctx context.Context, op, escrowID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "escrow."+op, trace.WithAttributes(
		attribute.String("escrow.id", escrowID),
	))
}

// StartInteractionSpan opens a span for an interaction operation.
func StartInteractionSpan(ctx context.Context, op, interactionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "interaction."+op, trace.WithAttributes(
		attribute.String("interaction.id", interactionID),
	))
}

// StartResolveSpan opens a span for an identity resolution.
func StartResolveSpan(ctx context.Context, ref string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "identity.resolve", trace.WithAttributes(
		attribute.String("identity.ref", ref),
	))
}
