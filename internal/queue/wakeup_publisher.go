package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// WakeupPublisher implements webhook.Waker and reaper's wake hook by
// publishing a delayed processUserCalls request. The consuming worker
// sleeps until NotBefore before invoking the scheduler, since Kafka itself
// has no native delayed-delivery semantics.
type WakeupPublisher struct {
	writer *kafka.Writer
}

// NewWakeupPublisher constructs a publisher for the given topic.
func NewWakeupPublisher(k *Kafka, topic string) *WakeupPublisher {
	return &WakeupPublisher{writer: k.NewWriter(topic)}
}

// WakeUserAfter publishes a wakeup message that becomes due after delay.
func (p *WakeupPublisher) WakeUserAfter(ctx context.Context, userID string, delay time.Duration) error {
	msg := WakeupMessage{UserID: userID, NotBefore: time.Now().UTC().Add(delay)}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wakeup publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(userID),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("wakeup publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *WakeupPublisher) Close() error {
	return p.writer.Close()
}
