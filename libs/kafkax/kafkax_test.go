package kafkax

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestEventMetaRoundTrip(t *testing.T) {
	meta := EventMeta{EventID: "e1", EventType: "scheduling.booking.created.v1", AggregateType: "booking"}
	got := ExtractEventMeta(kafka.Message{Headers: meta.Headers()})
	if got != meta {
		t.Fatalf("expected %+v, got %+v", meta, got)
	}
	if n := len(EventMeta{EventID: "e1"}.Headers()); n != 1 {
		t.Fatalf("expected empty fields omitted, got %d headers", n)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	got := ExtractEventMeta(kafka.Message{Topic: "catalog.storefront.upserted.v1", Partition: 2, Offset: 41, Key: []byte("k1")})
	if got.EventID != "catalog.storefront.upserted.v1/2/41" || got.EventType != "catalog.storefront.upserted.v1" {
		t.Fatalf("unexpected fallback meta %+v", got)
	}

	next := ExtractEventMeta(kafka.Message{Topic: "catalog.storefront.upserted.v1", Partition: 2, Offset: 42, Key: []byte("k1")})
	if next.EventID == got.EventID {
		t.Fatalf("messages sharing a key must not share an id: %q", next.EventID)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e1"}.Headers())
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %+v", headers)
	}
	if HeaderValue(headers, HeaderEventID) != "e1" {
		t.Fatalf("expected existing headers kept, got %+v", headers)
	}

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if extracted.TraceID() != traceID || extracted.SpanID() != spanID {
		t.Fatalf("unexpected extracted span context %+v", extracted)
	}
}

func TestReadyCheck(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}

	var addrs []string
	for i := 0; i < 2; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addrs = append(addrs, ln.Addr().String())
		_ = ln.Close()
	}

	err := ReadyCheck(strings.Join(addrs, ","))(context.Background())
	if err == nil {
		t.Fatal("expected error when no broker is reachable")
	}
	for _, addr := range addrs {
		if !strings.Contains(err.Error(), addr) {
			t.Fatalf("expected every broker to be tried, %s missing from %v", addr, err)
		}
	}
}
