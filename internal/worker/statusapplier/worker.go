// Package statusapplier consumes normalized webhook events off the
// webhook-event Kafka topic and applies them through the WebhookReducer,
// decoupling webhook HTTP latency from the store writes §4.5 describes.
package statusapplier

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/queue"
	"github.com/acme/campaign-orchestrator/internal/webhook"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

var tracer = otel.Tracer("orchestrator.statusapplier")

// Worker applies WebhookEventMessage records through the reducer.
type Worker struct {
	reader  *kafka.Reader
	reducer *webhook.Reducer
	log     *logger.Logger
}

// New constructs a Worker reading from the configured webhook-event topic.
func New(k *queue.Kafka, topic, groupID string, reducer *webhook.Reducer, log *logger.Logger) *Worker {
	return &Worker{
		reader:  k.NewReader(topic, groupID),
		reducer: reducer,
		log:     log,
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
			w.log.Error("status applier: fetch message failed", zap.Error(err))
			continue
		}

		var event queue.WebhookEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			w.log.Error("status applier: unmarshal message failed", zap.Error(err))
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}

		tctx, span := tracer.Start(ctx, "statusapplier.apply", trace.WithAttributes(
			attribute.String("engineCallId", event.EngineCallID),
		))

		terminated := webhook.CallTerminated{
			EngineCallID:    event.EngineCallID,
			Outcome:         webhook.Outcome(event.Outcome),
			DurationSeconds: event.DurationSeconds,
			EndReason:       event.EndReason,
			JoinedAt:        event.JoinedAt,
			EndedAt:         event.EndedAt,
			Summary:         event.Summary,
			ShortSummary:    event.ShortSummary,
			RecordingURL:    event.RecordingURL,
		}
		if err := w.reducer.Apply(tctx, terminated); err != nil {
			span.RecordError(err)
			w.log.Error("status applier: apply reducer failed", zap.String("engineCallId", event.EngineCallID), zap.Error(err))
		}
		span.End()

		if err := w.reader.CommitMessages(tctx, msg); err != nil {
			w.log.Error("status applier: commit failed", zap.Error(err))
		}
	}
}
