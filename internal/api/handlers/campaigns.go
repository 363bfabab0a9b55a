package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/domain"
	campaignsvc "github.com/acme/campaign-orchestrator/internal/service/campaign"
)

type contactRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

type outboundMediumRequest struct {
	Provider  string `json:"provider"`
	FromPhone string `json:"from_phone"`
}

type scheduleRequest struct {
	ScheduledDate time.Time `json:"scheduled_date"`
	ScheduledTime string    `json:"scheduled_time"`
	EndTime       string    `json:"end_time"`
	TimeZone      string    `json:"time_zone"`
}

type createCampaignRequest struct {
	UserID         string                 `json:"user_id"`
	Type           string                 `json:"type"`
	AgentRef       string                 `json:"agent_ref"`
	Schedule       *scheduleRequest       `json:"schedule"`
	OutboundMedium *outboundMediumRequest `json:"outbound_medium"`
	Contacts       []contactRequest       `json:"contacts"`
}

type updateCampaignRequest struct {
	AgentRef       *string                `json:"agent_ref"`
	Schedule       *scheduleRequest       `json:"schedule"`
	OutboundMedium *outboundMediumRequest `json:"outbound_medium"`
	AppendContacts []contactRequest       `json:"append_contacts"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user_id")
	}

	input := campaignsvc.CreateCampaignInput{
		UserID:         userID,
		Type:           domain.CampaignType(req.Type),
		AgentRef:       req.AgentRef,
		Schedule:       toDomainSchedule(req.Schedule),
		OutboundMedium: toDomainOutboundMedium(req.OutboundMedium),
		Contacts:       toContactInputs(req.Contacts),
	}

	campaign, err := h.container.Campaigns().Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(campaign)
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := campaignsvc.UpdateCampaignInput{
		AgentRef:       req.AgentRef,
		Schedule:       toDomainSchedule(req.Schedule),
		OutboundMedium: toDomainOutboundMedium(req.OutboundMedium),
		AppendContacts: toContactInputs(req.AppendContacts),
	}

	campaign, err := h.container.Campaigns().Update(ctx.Context(), id, input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(campaign)
}

func toDomainSchedule(req *scheduleRequest) *domain.Schedule {
	if req == nil {
		return nil
	}
	return &domain.Schedule{
		ScheduledDate: req.ScheduledDate,
		ScheduledTime: req.ScheduledTime,
		EndTime:       req.EndTime,
		TimeZone:      req.TimeZone,
	}
}

func toDomainOutboundMedium(req *outboundMediumRequest) *domain.OutboundMedium {
	if req == nil {
		return nil
	}
	return &domain.OutboundMedium{Provider: req.Provider, FromPhone: req.FromPhone}
}

func toContactInputs(reqs []contactRequest) []campaignsvc.ContactInput {
	contacts := make([]campaignsvc.ContactInput, 0, len(reqs))
	for _, r := range reqs {
		contacts = append(contacts, campaignsvc.ContactInput{Name: r.Name, PhoneNumber: r.PhoneNumber})
	}
	return contacts
}
