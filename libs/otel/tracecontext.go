package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	traceparentKey = "traceparent"
	tracestateKey  = "tracestate"
)

// TraceContextStrings captures the W3C headers for ctx so they can be stored
// next to an outbox row and restored when the row is published.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier[traceparentKey], carrier[tracestateKey]
}

func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceparentKey: traceparent}
	if tracestate != "" {
		carrier[tracestateKey] = tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
