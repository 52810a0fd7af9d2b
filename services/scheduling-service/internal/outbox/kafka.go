package outbox

import (
	"context"

	"github.com/md-rashed-zaman/storefront/libs/kafkax"
	otelx "github.com/md-rashed-zaman/storefront/libs/otel"
	"github.com/segmentio/kafka-go"
)

// KafkaSink writes each record to the topic named by its event type, keyed
// by aggregate id so events of one aggregate stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers string) *KafkaSink {
	return &KafkaSink{writer: kafka.NewWriter(kafka.WriterConfig{
		Brokers:  kafkax.SplitBrokers(brokers),
		Balancer: &kafka.Hash{},
	})}
}

func (s *KafkaSink) Publish(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, KafkaMessage(ctx, r))
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// KafkaMessage converts a record, restoring the trace context captured when
// the record was written.
func KafkaMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	msg := kafka.Message{
		Topic: r.EventType,
		Key:   []byte(r.AggregateID),
		Value: r.Payload,
	}
	meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, AggregateType: r.AggregateType}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, meta.Headers())
	return msg
}
