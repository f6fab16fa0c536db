package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "alarmrelay"

// StartIngestSpan starts a span for storing and publishing one alarm.
func StartIngestSpan(ctx context.Context, source string, size int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "alarm.ingest",
		trace.WithAttributes(
			attribute.String("alarm.source", source),
			attribute.Int("alarm.payload_bytes", size),
		),
	)
}

// StartForwardSpan starts a span for forwarding one alarm to the message queue.
func StartForwardSpan(ctx context.Context, alarmID uint64, subject string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "alarm.forward",
		trace.WithAttributes(
			attribute.Int64("alarm.id", int64(alarmID)), //nolint:gosec // ids stay far below MaxInt64
			attribute.String("messaging.destination", subject),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// ReasonAttr labels a rejection by cause, e.g. "too_large" or "unauthorized".
func ReasonAttr(reason string) attribute.KeyValue {
	return attribute.String("reason", reason)
}
