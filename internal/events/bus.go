package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one emitted fact. Key groups events for the same payment so
// partitioned transports keep them ordered.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher delivers events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus fans events out to every configured publisher. A nil Bus drops events.
type Bus struct {
	Publishers []Publisher
}

// Emit builds the event and dispatches it to all publishers. Publisher
// errors are joined; the event is returned either way.
func (b *Bus) Emit(ctx context.Context, topic, key string, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Key:        key,
		Payload:    encoded,
		OccurredAt: time.Now().UTC(),
	}
	if b == nil {
		return ev, nil
	}
	var joined error
	for _, p := range b.Publishers {
		if p == nil {
			continue
		}
		if pubErr := p.Publish(ctx, ev); pubErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish %s: %w", topic, pubErr))
		}
	}
	return ev, joined
}

// encodePayload passes pre-encoded JSON through after validating it and
// marshals anything else. Empty payloads become {}.
func encodePayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return bytes.Clone(raw), nil
}
