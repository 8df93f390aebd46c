package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer used for service spans
const TracerName = "meterly-backend"

// StartServiceSpan starts a span named {service}.{method}. The caller must End it.
//
//	ctx, span := telemetry.StartServiceSpan(ctx, "orchestrator", "signup")
//	defer span.End()
func StartServiceSpan(ctx context.Context, service, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("%s.%s", service, method),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent annotates the span, e.g. a compensation step.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Span attribute keys
const (
	SpanAttrSubscriberID    = "subscriber.id"
	SpanAttrPlan            = "subscriber.plan"
	SpanAttrCustomerRef     = "billing.customer_ref"
	SpanAttrSubscriptionRef = "billing.subscription_ref"
	SpanAttrEventID         = "billing.event_id"
	SpanAttrStage           = "signup.stage"
)
