package otelhelper

import (
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordFailure marks the span as failed and adds an attempt_failed event. A nil err is a no-op.
func RecordFailure(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.AddEvent("attempt_failed", trace.WithAttributes(
		slices.Concat(attrs, []attribute.KeyValue{attribute.String("error.message", err.Error())})...,
	))
}
