package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Source hands out batches of unpublished records and marks them published
// when publish returns nil.
type Source interface {
	ProcessOutbox(ctx context.Context, limit int, publish func(context.Context, []Record) error) error
}

// Sink delivers records to a broker. Publish must return an error unless
// every record was accepted.
type Sink interface {
	Publish(ctx context.Context, records []Record) error
	Close() error
}

type Publisher struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(source Source, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.sink == nil {
		p.logger.Warn("outbox publisher disabled (no event sink configured)")
		return
	}
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("outbox sink close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch publishes at most one batch of pending records.
func (p *Publisher) PublishBatch(ctx context.Context) error {
	return p.source.ProcessOutbox(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		if err := p.sink.Publish(ctx, records); err != nil {
			return err
		}
		p.logger.Debug("outbox batch published", "count", len(records))
		return nil
	})
}
