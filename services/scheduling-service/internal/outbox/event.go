package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the domain event envelope written to the outbox table.
// The topic (Kafka) or routing key (AMQP) equals EventType.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	BookingCreated    = "scheduling.booking.created.v1"
	DateConfigSaved   = "scheduling.dateconfig.saved.v1"
	DateConfigDeleted = "scheduling.dateconfig.deleted.v1"
	SlotReleased      = "scheduling.slot.released.v1"
)

// NewEvent marshals payload and assigns a fresh event id.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}

// Record is an outbox row as read back by the publisher.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
