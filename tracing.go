package tally

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "github.com/xraph/tally"

	traceSpanCheckout = "tally.checkout"
	traceSpanRenew    = "tally.renew"

	traceAttrOrgID          = "tally.org_id"
	traceAttrSubscriber     = "tally.subscriber"
	traceAttrSubscriptionID = "tally.subscription_id"
	traceAttrOutcome        = "tally.outcome"
)

// startSpan opens a span on the global tracer provider. Without a
// configured provider this is a no-op span.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
