package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type userScopedRequest struct {
	UserID string `json:"user_id"`
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.container.Admin().StartNow(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.container.Admin().Pause(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.container.Admin().Resume(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) generateInstantCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.container.Admin().GenerateInstantCall(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusAccepted)
}

func (h *HandlerSet) resetCallState(ctx *fiber.Ctx) error {
	var req userScopedRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	count, err := h.container.Admin().ResetUserCallState(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"reset_count": count})
}

func (h *HandlerSet) callState(ctx *fiber.Ctx) error {
	userID, err := uuid.Parse(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	available, err := h.container.Budget().Available(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	max, err := h.container.Budget().MaxConcurrentCalls(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"max_concurrent_calls": max,
		"available_slots":      available,
	})
}

func (h *HandlerSet) resumable(ctx *fiber.Ctx) error {
	userID, err := uuid.Parse(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	campaigns, err := h.container.Admin().GetResumableCampaigns(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": campaigns})
}

func (h *HandlerSet) pendingSummary(ctx *fiber.Ctx) error {
	userID, err := uuid.Parse(ctx.Query("user_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	summaries, err := h.container.Admin().GetPendingContactsSummary(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"summary": summaries})
}

func (h *HandlerSet) campaignState(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.container.Repositories().Campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	summary, err := h.container.Repositories().Campaigns.ContactsSummary(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"campaign": campaign,
		"summary":  summary,
	})
}
