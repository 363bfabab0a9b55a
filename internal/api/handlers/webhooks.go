package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/queue"
	"github.com/acme/campaign-orchestrator/internal/webhook"
)

// enginePayloadRequest mirrors webhook.EnginePayload over the wire; fiber's
// BodyParser needs its own json tags rather than reusing the domain type
// directly, matching how the teacher keeps wire shapes separate from
// internal ones.
type enginePayloadRequest struct {
	CallID       string     `json:"callId"`
	EndReason    string     `json:"endReason"`
	JoinedAt     *time.Time `json:"joinedAt"`
	EndedAt      *time.Time `json:"endedAt"`
	Summary      string     `json:"summary"`
	ShortSummary string     `json:"shortSummary"`
	RecordingURL string     `json:"recordingUrl"`
}

// webhookEngine handles /webhook/engine (§6): call.started, call.joined,
// call.ended, call.billed. Only terminal events carry an endReason the
// reducer recognizes; others are accepted and ignored.
func (h *HandlerSet) webhookEngine(ctx *fiber.Ctx) error {
	body := ctx.Body()
	if !h.container.WebhookReducer().VerifySignature(body, ctx.Get("X-Signature")) {
		h.container.Logger.Warn("engine webhook: signature mismatch")
		return ctx.SendStatus(http.StatusOK)
	}

	var req enginePayloadRequest
	if err := ctx.BodyParser(&req); err != nil {
		h.container.Logger.Warn("engine webhook: invalid body")
		return ctx.SendStatus(http.StatusOK)
	}

	terminated, err := webhook.FromEngine(webhook.EnginePayload{
		EngineCallID: req.CallID,
		EndReason:    req.EndReason,
		JoinedAt:     req.JoinedAt,
		EndedAt:      req.EndedAt,
		Summary:      req.Summary,
		ShortSummary: req.ShortSummary,
		RecordingURL: req.RecordingURL,
	})
	if err != nil {
		// Non-terminal engine event (call.started/call.joined); no state change.
		return ctx.SendStatus(http.StatusOK)
	}

	h.publishTerminated(ctx, terminated)
	return ctx.SendStatus(http.StatusOK)
}

// webhookTwilio handles /webhook/twilio/status?campaignId&contactId&callHistoryId.
func (h *HandlerSet) webhookTwilio(ctx *fiber.Ctx) error {
	if secret := h.container.Config.Webhook.TwilioAuthToken; secret != "" {
		validator := twilioclient.NewRequestValidator(secret)
		params := parseFormParams(ctx)
		if !validator.Validate(h.requestURL(ctx), params, ctx.Get("X-Twilio-Signature")) {
			h.container.Logger.Warn("twilio webhook: signature mismatch")
			return ctx.SendStatus(http.StatusOK)
		}
	}

	engineCallID, ok := h.resolveEngineCallID(ctx)
	if !ok {
		return ctx.SendStatus(http.StatusOK)
	}

	duration, _ := strconv.Atoi(ctx.FormValue("CallDuration"))
	terminated, err := webhook.FromTwilio(webhook.TwilioStatusPayload{
		EngineCallID: engineCallID,
		CallStatus:   ctx.FormValue("CallStatus"),
		CallDuration: duration,
	}, h.container.Config.Budget.BusyIsRetryable)
	if err != nil {
		// ringing / in-progress or an unmapped status: not yet terminal.
		return ctx.SendStatus(http.StatusOK)
	}

	h.publishTerminated(ctx, terminated)
	return ctx.Type("xml").SendString(`<Response></Response>`)
}

// webhookPlivo handles /webhook/plivo/status?campaignId&contactId&callHistoryId.
func (h *HandlerSet) webhookPlivo(ctx *fiber.Ctx) error {
	engineCallID, ok := h.resolveEngineCallID(ctx)
	if !ok {
		return ctx.SendStatus(http.StatusOK)
	}

	duration, _ := strconv.Atoi(ctx.FormValue("Duration"))
	terminated, err := webhook.FromPlivo(webhook.PlivoStatusPayload{
		EngineCallID: engineCallID,
		HangupCause:  ctx.FormValue("HangupCause"),
		Duration:     duration,
	}, h.container.Config.Budget.BusyIsRetryable)
	if err != nil {
		return ctx.SendStatus(http.StatusOK)
	}

	h.publishTerminated(ctx, terminated)
	return ctx.SendStatus(http.StatusOK)
}

type telnyxEnvelope struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			HangupCause  string `json:"hangup_cause"`
			CallDuration int    `json:"call_duration_secs"`
		} `json:"payload"`
	} `json:"data"`
}

// webhookTelnyx handles /webhook/telnyx/status?campaignId&contactId&callHistoryId:
// call.initiated, call.ringing, call.answered, call.hangup.
func (h *HandlerSet) webhookTelnyx(ctx *fiber.Ctx) error {
	var envelope telnyxEnvelope
	if err := ctx.BodyParser(&envelope); err != nil {
		h.container.Logger.Warn("telnyx webhook: invalid body")
		return ctx.SendStatus(http.StatusOK)
	}
	if envelope.Data.EventType != "call.hangup" {
		return ctx.SendStatus(http.StatusOK)
	}

	engineCallID, ok := h.resolveEngineCallID(ctx)
	if !ok {
		return ctx.SendStatus(http.StatusOK)
	}

	terminated, err := webhook.FromTelnyx(webhook.TelnyxStatusPayload{
		EngineCallID: engineCallID,
		HangupCause:  envelope.Data.Payload.HangupCause,
		CallDuration: envelope.Data.Payload.CallDuration,
	}, h.container.Config.Budget.BusyIsRetryable)
	if err != nil {
		return ctx.SendStatus(http.StatusOK)
	}

	h.publishTerminated(ctx, terminated)
	return ctx.SendStatus(http.StatusOK)
}

// resolveEngineCallID recovers the Contact's engineCallId from the
// correlationTags (campaignId, contactId) a telephony provider's status
// callback carries as query parameters, per §6.
func (h *HandlerSet) resolveEngineCallID(ctx *fiber.Ctx) (string, bool) {
	campaignID, err := uuid.Parse(ctx.Query("campaignId"))
	if err != nil {
		h.container.Logger.Warn("telephony webhook: invalid campaignId")
		return "", false
	}
	contactID := ctx.Query("contactId")

	campaign, err := h.container.Repositories().Campaigns.Get(ctx.Context(), campaignID)
	if err != nil {
		h.container.Logger.Warn("telephony webhook: unknown campaign")
		return "", false
	}
	for _, c := range campaign.Contacts {
		if c.ContactID == contactID {
			if c.EngineCallID == "" {
				return "", false
			}
			return c.EngineCallID, true
		}
	}
	h.container.Logger.Warn("telephony webhook: unknown contact")
	return "", false
}

// publishTerminated hands a normalized event to the WebhookEventPublisher,
// decoupling webhook HTTP latency from the store writes the StatusApplier
// worker performs.
func (h *HandlerSet) publishTerminated(ctx *fiber.Ctx, terminated webhook.CallTerminated) {
	msg := queue.WebhookEventMessage{
		EngineCallID:    terminated.EngineCallID,
		Outcome:         string(terminated.Outcome),
		DurationSeconds: terminated.DurationSeconds,
		EndReason:       terminated.EndReason,
		JoinedAt:        terminated.JoinedAt,
		EndedAt:         terminated.EndedAt,
		Summary:         terminated.Summary,
		ShortSummary:    terminated.ShortSummary,
		RecordingURL:    terminated.RecordingURL,
		ReceivedAt:      time.Now().UTC(),
	}
	if err := h.container.WebhookPublisher().Publish(ctx.Context(), msg); err != nil {
		h.container.Logger.Error("webhook publisher: publish failed", zap.Error(err))
	}
}

func (h *HandlerSet) requestURL(ctx *fiber.Ctx) string {
	base := h.container.Config.Webhook.BaseURL
	if base == "" {
		base = ctx.BaseURL()
	}
	return base + ctx.OriginalURL()
}

func parseFormParams(ctx *fiber.Ctx) map[string]string {
	params := map[string]string{}
	ctx.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return params
}
