package events

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every event to a single Kafka topic, keyed by the
// event key. The event topic travels in a header.
type KafkaPublisher struct {
	w messageWriter
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaPublisher returns nil when no brokers are configured.
func NewKafkaPublisher(brokersCSV, topic string) *KafkaPublisher {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := encodePayload(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Time:    ev.OccurredAt,
		Headers: []kafka.Header{{Key: "topic", Value: []byte(ev.Topic)}},
	})
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.w.Close()
}
