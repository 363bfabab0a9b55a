// Package admin implements the administrative operations of §4.8: the
// thin, synchronous surface operators and the HTTP layer use to start,
// pause, resume, and introspect campaigns outside the scheduler tick.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/callinit"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/scheduler/window"
)

const resetNotes = "reset due to manual state clear"

// Processor invokes the scheduler's per-user hot loop. Satisfied by
// *scheduler.Loop; kept as a narrow interface here so this package does not
// import the scheduler package back.
type Processor interface {
	ProcessUserCalls(ctx context.Context, userID uuid.UUID) error
}

// Service implements the §4.8 administrative operations.
type Service struct {
	campaigns repository.CampaignStore
	budget    *budget.Store
	processor Processor
	initiator *callinit.Initiator
}

// New constructs a Service.
func New(campaigns repository.CampaignStore, budgetStore *budget.Store, processor Processor, initiator *callinit.Initiator) *Service {
	return &Service{campaigns: campaigns, budget: budgetStore, processor: processor, initiator: initiator}
}

// GenerateInstantCall implements generateInstantCall(campaignId): an
// API-triggered single call that bypasses the tick and runs one
// CallInitiator invocation immediately against the campaign's next pending
// Contact. Still subject to the user budget, since ClaimPendingContact and
// Initiate go through the same paths the scheduler tick uses.
func (s *Service) GenerateInstantCall(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("admin: generate instant call: load campaign: %w", err)
	}
	if campaign.Type != domain.CampaignTypeOutbound {
		return fmt.Errorf("admin: campaign %s is not outbound", campaignID)
	}

	contact, err := s.campaigns.ClaimPendingContact(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("admin: generate instant call: claim contact: %w", err)
	}
	if contact == nil {
		return fmt.Errorf("admin: campaign %s has no pending contacts", campaignID)
	}

	return s.initiator.Initiate(ctx, campaign, *contact)
}

// StartNow implements startNow(campaignId).
func (s *Service) StartNow(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("admin: start now: load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusScheduled && campaign.Status != domain.CampaignStatusDraft {
		return fmt.Errorf("admin: campaign %s is not scheduled or draft (status=%s)", campaignID, campaign.Status)
	}
	if err := s.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusActive, ""); err != nil {
		return fmt.Errorf("admin: start now: update status: %w", err)
	}
	return s.processor.ProcessUserCalls(ctx, campaign.UserID)
}

// Pause implements pause(campaignId). In-flight calls are not cancelled;
// they terminate naturally through the webhook path, releasing their slots.
func (s *Service) Pause(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusPaused, ""); err != nil {
		return fmt.Errorf("admin: pause: update status: %w", err)
	}
	return nil
}

// Resume implements resume(campaignId).
func (s *Service) Resume(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("admin: resume: load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignStatusPaused && campaign.Status != domain.CampaignStatusPausedTimeWindow {
		return fmt.Errorf("admin: campaign %s is not paused (status=%s)", campaignID, campaign.Status)
	}
	now := time.Now().UTC()
	campaign.Status = domain.CampaignStatusActive
	campaign.PausedReason = ""
	campaign.StartedAt = &now
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return fmt.Errorf("admin: resume: update campaign: %w", err)
	}
	return s.processor.ProcessUserCalls(ctx, campaign.UserID)
}

// ResetUserCallState implements resetUserCallState(userId): recovers a
// user whose budget counter is stuck because webhooks were lost.
func (s *Service) ResetUserCallState(ctx context.Context, userID uuid.UUID) (int, error) {
	if err := s.budget.Reset(ctx, userID); err != nil {
		return 0, fmt.Errorf("admin: reset user call state: reset budget: %w", err)
	}

	records, err := s.budget.ActiveCallRecords(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("admin: reset user call state: list active call records: %w", err)
	}
	for _, rec := range records {
		if err := s.budget.DropActiveCallRecord(ctx, userID, rec.Key); err != nil {
			return 0, fmt.Errorf("admin: reset user call state: drop active call record %s: %w", rec.Key, err)
		}
	}

	count, err := s.campaigns.ResetInProgressContacts(ctx, userID, resetNotes)
	if err != nil {
		return 0, fmt.Errorf("admin: reset user call state: reset in-progress contacts: %w", err)
	}
	return count, nil
}

// GetResumableCampaigns implements getResumableCampaigns(userId).
func (s *Service) GetResumableCampaigns(ctx context.Context, userID uuid.UUID) ([]domain.ResumableCampaign, error) {
	campaigns, err := s.campaigns.ListByUserAndStatus(ctx, userID, domain.CampaignStatusPausedTimeWindow)
	if err != nil {
		return nil, fmt.Errorf("admin: get resumable campaigns: %w", err)
	}
	now := time.Now().UTC()

	resumable := make([]domain.ResumableCampaign, 0, len(campaigns))
	for _, c := range campaigns {
		pending := countPending(c)
		if pending == 0 {
			continue
		}
		windowOpen := c.Schedule != nil && window.CanResumeInWindow(c.Schedule, now)
		resumable = append(resumable, domain.ResumableCampaign{
			Campaign:        c,
			WindowOpenNow:   windowOpen,
			PendingContacts: pending,
		})
	}
	return resumable, nil
}

// GetPendingContactsSummary implements getPendingContactsSummary(userId).
func (s *Service) GetPendingContactsSummary(ctx context.Context, userID uuid.UUID) ([]domain.CampaignContactsSummary, error) {
	var summaries []domain.CampaignContactsSummary
	for _, status := range []domain.CampaignStatus{
		domain.CampaignStatusDraft,
		domain.CampaignStatusScheduled,
		domain.CampaignStatusActive,
		domain.CampaignStatusPaused,
		domain.CampaignStatusPausedTimeWindow,
		domain.CampaignStatusCompleted,
	} {
		campaigns, err := s.campaigns.ListByUserAndStatus(ctx, userID, status)
		if err != nil {
			return nil, fmt.Errorf("admin: get pending contacts summary: list %s campaigns: %w", status, err)
		}
		for _, c := range campaigns {
			summary, err := s.campaigns.ContactsSummary(ctx, c.ID)
			if err != nil {
				return nil, fmt.Errorf("admin: get pending contacts summary: campaign %s: %w", c.ID, err)
			}
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

func countPending(c *domain.Campaign) int {
	count := 0
	for _, contact := range c.Contacts {
		if contact.CallStatus == domain.CallStatusPending {
			count++
		}
	}
	return count
}
