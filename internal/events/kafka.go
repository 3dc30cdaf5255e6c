package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes events to a single topic, keyed by record id so that the
// history of one participant or transaction stays on one partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a synchronous producer for topic
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Kafka) Publish(ctx context.Context, e Event) error {
	data, err := e.encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.Key()),
		Value:   data,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(e.Kind)}},
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, err)
	}
	return nil
}

func (p *Kafka) Close() error {
	return p.writer.Close()
}
