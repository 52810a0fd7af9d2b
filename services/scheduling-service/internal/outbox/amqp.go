package outbox

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes records to a topic exchange with the event type as
// routing key.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, records []Record) error {
	for _, r := range records {
		if err := s.ch.PublishWithContext(ctx, s.exchange, r.EventType, false, false, AMQPPublishing(r)); err != nil {
			return fmt.Errorf("publish %s: %w", r.EventID, err)
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func AMQPPublishing(r Record) amqp.Publishing {
	headers := amqp.Table{
		"aggregate_type": r.AggregateType,
		"aggregate_id":   r.AggregateID,
	}
	if r.Traceparent != "" {
		headers["traceparent"] = r.Traceparent
	}
	if r.Tracestate != "" {
		headers["tracestate"] = r.Tracestate
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.EventID,
		Type:         r.EventType,
		Timestamp:    r.CreatedAt,
		Headers:      headers,
		Body:         r.Payload,
	}
}
