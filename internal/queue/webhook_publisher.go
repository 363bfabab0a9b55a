package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// WebhookEventPublisher publishes normalized terminal call events for
// asynchronous application by a StatusApplier worker.
type WebhookEventPublisher struct {
	writer *kafka.Writer
}

// NewWebhookEventPublisher constructs a publisher for the given topic.
func NewWebhookEventPublisher(k *Kafka, topic string) *WebhookEventPublisher {
	return &WebhookEventPublisher{writer: k.NewWriter(topic)}
}

// Publish emits one webhook event to Kafka, keyed by engine call id so all
// events for one call land on the same partition and apply in order.
func (p *WebhookEventPublisher) Publish(ctx context.Context, msg WebhookEventMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.EngineCallID),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("webhook event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *WebhookEventPublisher) Close() error {
	return p.writer.Close()
}
