// Package wakeup consumes delayed processUserCalls requests published by
// the WebhookReducer (§4.5 step 6) and the StaleCallReaper (§4.6 step 4),
// sleeping until each message becomes due since Kafka has no native
// delayed-delivery semantics.
package wakeup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/queue"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

// Processor is satisfied by *scheduler.Loop.
type Processor interface {
	ProcessUserCalls(ctx context.Context, userID uuid.UUID) error
}

// Worker drains the wakeup topic.
type Worker struct {
	reader    *kafka.Reader
	processor Processor
	log       *logger.Logger
}

// New constructs a Worker reading from the configured wakeup topic.
func New(k *queue.Kafka, topic, groupID string, processor Processor, log *logger.Logger) *Worker {
	return &Worker{
		reader:    k.NewReader(topic, groupID),
		processor: processor,
		log:       log,
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("wakeup worker: fetch message failed", zap.Error(err))
			continue
		}

		var wake queue.WakeupMessage
		if err := json.Unmarshal(msg.Value, &wake); err != nil {
			w.log.Error("wakeup worker: unmarshal message failed", zap.Error(err))
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}

		if delay := time.Until(wake.NotBefore); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		userID, err := uuid.Parse(wake.UserID)
		if err != nil {
			w.log.Error("wakeup worker: invalid user id", zap.String("userId", wake.UserID), zap.Error(err))
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}
		if err := w.processor.ProcessUserCalls(ctx, userID); err != nil {
			w.log.Error("wakeup worker: process user calls failed", zap.String("userId", wake.UserID), zap.Error(err))
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.log.Error("wakeup worker: commit failed", zap.Error(err))
		}
	}
}
