package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck succeeds as soon as any configured broker accepts a connection.
func ReadyCheck(brokers string) func(context.Context) error {
	list := SplitBrokers(brokers)
	return func(ctx context.Context) error {
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, addr := range list {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				continue
			}
			_ = conn.Close()
			return nil
		}
		return errors.Join(errs...)
	}
}
