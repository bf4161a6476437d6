// Package kafka publishes ledger alerts to a Kafka topic for the
// downstream alerting pipeline.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// publishTimeout bounds every write so a broker outage fails the publish
// instead of stalling the scheduler goroutine that called it.
const publishTimeout = 10 * time.Second

type Publisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: publishTimeout,
		},
		timeout: publishTimeout,
	}
}

// Publish serializes the event as JSON and writes it keyed by its kind, so
// consumers can partition integrity and reconciliation alerts separately.
func (p *Publisher) Publish(kind string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return p.writer.WriteMessages(
		ctx,
		kafka.Message{
			Key:   []byte(kind),
			Value: data,
		},
	)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
