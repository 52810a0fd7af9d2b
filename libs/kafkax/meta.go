package kafkax

import (
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// EventMeta is the metadata carried in message headers next to the payload.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
}

// Headers renders meta as message headers. Empty fields are omitted.
func (m EventMeta) Headers() []kafka.Header {
	headers := make([]kafka.Header, 0, 3)
	for _, h := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderAggregateType, m.AggregateType},
	} {
		if h[1] != "" {
			headers = append(headers, kafka.Header{Key: h[0], Value: []byte(h[1])})
		}
	}
	return headers
}

// ExtractEventMeta reads meta from headers. Without an event_id header the id
// is the message position (topic/partition/offset), which is unique per
// delivery; keys are not, since producers key by aggregate.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
	}
	if meta.EventID == "" {
		meta.EventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
