// Package telemetry wraps outbound client calls in OpenTelemetry spans.
//
// Spans go to whatever TracerProvider is registered globally with otel; without
// one they are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "pollchat"

var (
	AttrMessageID = attribute.Key("chat.message_id")
	AttrStatus    = attribute.Key("http.response.status_code")
	AttrFiles     = attribute.Key("chat.upload.files")
)

// StartSpan starts a client span named after the operation.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	span.End()
}
