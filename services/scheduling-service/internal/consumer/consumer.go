// Package consumer reads catalog events from Kafka into the scheduling
// service.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/storefront/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox records consumed event ids. Record returns false for an event that
// was seen before.
type Inbox interface {
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)
}

type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger.With("topic", cfg.Topic),
		inbox:   inbox,
		handler: handler,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}
		_ = Process(ctx, c.logger, c.inbox, c.handler, msg)
	}
}

// Process runs one message through inbox de-duplication and handler under a
// consume span.
func Process(ctx context.Context, logger *slog.Logger, inbox Inbox, handler Handler, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	ok, err := inbox.RecordInbox(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return err
	}
	if !ok {
		logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := handler(ctxSpan, msg); err != nil {
		logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return err
	}
	return nil
}
