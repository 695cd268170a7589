package kafkax

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the metadata producers attach to every event as headers.
type EventMeta struct {
	EventID    string
	EventType  string
	Producer   string
	OccurredAt time.Time
}

// ExtractEventMeta reads event headers, falling back to the message key for
// the id, the topic for the type and the broker timestamp for the time.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, "event_id"),
		EventType: HeaderValue(msg.Headers, "event_type"),
		Producer:  HeaderValue(msg.Headers, "producer"),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	if raw := HeaderValue(msg.Headers, "occurred_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.OccurredAt = t
		}
	}
	if meta.OccurredAt.IsZero() {
		meta.OccurredAt = msg.Time
	}
	return meta
}

// Lag is how long the event waited before being handled; zero when unknown.
func (m EventMeta) Lag(now time.Time) time.Duration {
	if m.OccurredAt.IsZero() || now.Before(m.OccurredAt) {
		return 0
	}
	return now.Sub(m.OccurredAt)
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
