// Package otelhelper provides OpenTelemetry tracing for step attempts.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on attempt spans.
const (
	DefinitionIDKey = "playbook.definition.id"
	ExecutionIDKey  = "playbook.execution.id"
	StepIDKey       = "playbook.step.id"
	StepKindKey     = "playbook.step.kind"
	AttemptKey      = "playbook.attempt"
	DryRunKey       = "playbook.dry_run"
	ErrorKindKey    = "playbook.error.kind"
)

// NewTracer installs an OTLP/HTTP exporting provider as the global one. The exporter
// reads the standard OTEL_EXPORTER_OTLP_* variables. sampleRatio outside (0, 1) samples
// everything.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string, sampleRatio float64) (trace.Tracer, error) {
	provider, err := newTracerProvider(ctx, serviceName, Sampler(sampleRatio))
	if err != nil {
		return nil, err
	}

	return provider.Tracer(serviceName), nil
}

// NoopTracer returns the tracer of the global provider, a no-op until NewTracer installs one.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NoopTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and stops the provider installed by NewTracer. It is a no-op otherwise.
func Shutdown(ctx context.Context) error {
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}

	return nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Sampler keeps a ratio of new traces and follows the parent decision otherwise.
//
// nolint:ireturn
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, serviceName string, sampler sdktrace.Sampler) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
