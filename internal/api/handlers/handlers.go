package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/app"
)

// HandlerSet bundles all HTTP handlers: the administrative surface and the
// inbound webhook endpoints of §6, both thin controllers delegating to
// internal/admin and internal/webhook.
type HandlerSet struct {
	container *app.Container
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	return &HandlerSet{container: container}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(fiberApp *fiber.App) {
	fiberApp.Get("/healthz", h.health)

	campaigns := fiberApp.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Post("/reset-call-state", h.resetCallState)
	campaigns.Get("/call-state", h.callState)
	campaigns.Get("/resumable", h.resumable)
	campaigns.Get("/pending-summary", h.pendingSummary)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/generate-instant-call", h.generateInstantCall)
	campaigns.Get("/:id/state", h.campaignState)

	webhook := fiberApp.Group("/webhook")
	webhook.Post("/engine", h.webhookEngine)
	webhook.Post("/twilio/status", h.webhookTwilio)
	webhook.Post("/plivo/status", h.webhookPlivo)
	webhook.Post("/telnyx/status", h.webhookTelnyx)
}

// ErrorHandler provides centralized error responses for the administrative
// surface. Webhook handlers never reach this — they always answer 200 per
// §6's "must not trigger provider retry" rule.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{"error": message})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
