// Package campaign implements a thin creation/update service sitting
// beside the scheduler core. The spec is silent on how a Campaign is first
// populated but implies it exists; this is not itself part of the
// scheduler (§4) but is needed for the admin surface and for tests to
// construct fixtures.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	apperrors "github.com/acme/campaign-orchestrator/pkg/errors"
)

// Service provisions and edits Campaign definitions.
type Service struct {
	repo repository.CampaignStore
}

// NewService constructs a campaign service.
func NewService(repo repository.CampaignStore) *Service {
	return &Service{repo: repo}
}

// ContactInput is one dialing target supplied at creation time.
type ContactInput struct {
	Name        string
	PhoneNumber string
}

// CreateCampaignInput captures campaign creation parameters, generalized
// from the teacher's target/business-hours input shape to this system's
// outbound-medium-and-schedule model.
type CreateCampaignInput struct {
	UserID         uuid.UUID
	Type           domain.CampaignType
	AgentRef       string
	Schedule       *domain.Schedule
	OutboundMedium *domain.OutboundMedium
	Contacts       []ContactInput
}

// UpdateCampaignInput captures the subset of a Campaign an operator may
// revise after creation. Contacts are appended, never replaced, so an
// update cannot silently discard in-progress or completed dialing history.
type UpdateCampaignInput struct {
	AgentRef       *string
	Schedule       *domain.Schedule
	OutboundMedium *domain.OutboundMedium
	AppendContacts []ContactInput
}

// Create provisions a new campaign in draft status. Outbound campaigns are
// validated against the same prerequisites CallInitiator enforces later
// (§4.4 step 1), so a misconfigured campaign is rejected up front rather
// than failing its first Contact at dial time.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		UserID:         input.UserID,
		Type:           input.Type,
		AgentRef:       input.AgentRef,
		Status:         domain.CampaignStatusDraft,
		Schedule:       input.Schedule,
		OutboundMedium: input.OutboundMedium,
		Contacts:       toDomainContacts(input.Contacts),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Update applies a partial revision to an existing campaign and appends any
// newly supplied contacts to its existing list.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign service: update: load campaign: %w", err)
	}

	if input.AgentRef != nil {
		campaign.AgentRef = *input.AgentRef
	}
	if input.Schedule != nil {
		campaign.Schedule = input.Schedule
	}
	if input.OutboundMedium != nil {
		campaign.OutboundMedium = input.OutboundMedium
	}
	if len(input.AppendContacts) > 0 {
		campaign.Contacts = append(campaign.Contacts, toDomainContacts(input.AppendContacts)...)
	}
	campaign.UpdatedAt = time.Now().UTC()

	if campaign.Type == domain.CampaignTypeOutbound {
		if err := validateOutboundMedium(campaign.OutboundMedium); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: update campaign: %w", err)
	}
	return campaign, nil
}

func toDomainContacts(inputs []ContactInput) []domain.Contact {
	contacts := make([]domain.Contact, 0, len(inputs))
	for _, in := range inputs {
		contacts = append(contacts, domain.Contact{
			ContactID:   uuid.New().String(),
			Name:        in.Name,
			PhoneNumber: in.PhoneNumber,
			CallStatus:  domain.CallStatusPending,
		})
	}
	return contacts
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", apperrors.ErrValidation)
	}
	if input.AgentRef == "" {
		return fmt.Errorf("%w: agent_ref is required", apperrors.ErrValidation)
	}
	if input.Type == domain.CampaignTypeOutbound {
		if err := validateOutboundMedium(input.OutboundMedium); err != nil {
			return err
		}
		if input.Schedule == nil {
			return fmt.Errorf("%w: outbound campaigns require a schedule", apperrors.ErrValidation)
		}
	}
	return nil
}

func validateOutboundMedium(medium *domain.OutboundMedium) error {
	if medium == nil || medium.Provider == "" || medium.FromPhone == "" {
		return fmt.Errorf("%w: outbound campaigns require a provider and from_phone", apperrors.ErrValidation)
	}
	return nil
}
