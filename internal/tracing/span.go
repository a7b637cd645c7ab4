package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on probe spans.
const (
	AttrSpecID   = attribute.Key("probefire.spec_id")
	AttrVerdict  = attribute.Key("probefire.verdict")
	AttrAttempts = attribute.Key("probefire.attempts")
	AttrAttempt  = attribute.Key("probefire.attempt")
)

// StartProbeSpan starts the span covering every attempt of one probe.
func StartProbeSpan(ctx context.Context, tracer trace.Tracer, specID string) (context.Context, trace.Span) {
	name := "probe"
	if specID != "" {
		name += " " + specID
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrSpecID.String(specID)),
	)
}

// RecordTransition adds a retry controller state change to the probe span.
func RecordTransition(span trace.Span, attempt int, from, to string) {
	span.AddEvent("transition", trace.WithAttributes(
		AttrAttempt.Int(attempt),
		attribute.String("probefire.from", from),
		attribute.String("probefire.to", to),
	))
}

// StartRequestSpan starts a client span for a single HTTP attempt.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, url string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
		),
	)
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes the traceparent of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
