package campaign

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	apperrors "github.com/acme/campaign-orchestrator/pkg/errors"
)

type fakeStore struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeStore() *fakeStore {
	return &fakeStore{campaigns: map[uuid.UUID]*domain.Campaign{}}
}

func (f *fakeStore) Create(_ context.Context, c *domain.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}
func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if c, ok := f.campaigns[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}
func (f *fakeStore) Update(_ context.Context, c *domain.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}
func (f *fakeStore) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus, string) error {
	return nil
}
func (f *fakeStore) ListByUserAndStatus(context.Context, uuid.UUID, domain.CampaignStatus) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeStore) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeStore) ActiveUserIDs(context.Context) ([]uuid.UUID, error) { return nil, nil }
func (f *fakeStore) ClaimPendingContact(context.Context, uuid.UUID) (*domain.Contact, error) {
	return nil, nil
}
func (f *fakeStore) UpdateContact(context.Context, uuid.UUID, domain.Contact) error { return nil }
func (f *fakeStore) ResetInProgressContacts(context.Context, uuid.UUID, string) (int, error) {
	return 0, nil
}
func (f *fakeStore) ContactsSummary(context.Context, uuid.UUID) (domain.CampaignContactsSummary, error) {
	return domain.CampaignContactsSummary{}, nil
}
func (f *fakeStore) IncrementTotals(context.Context, uuid.UUID, repository.CampaignTotalsDelta) error {
	return nil
}
func (f *fakeStore) FindContactByEngineCallID(context.Context, string) (uuid.UUID, *domain.Contact, error) {
	return uuid.Nil, nil, repository.ErrNotFound
}

func validOutboundInput() CreateCampaignInput {
	return CreateCampaignInput{
		UserID:         uuid.New(),
		Type:           domain.CampaignTypeOutbound,
		AgentRef:       "agent-1",
		Schedule:       &domain.Schedule{ScheduledTime: "09:00", EndTime: "17:00", TimeZone: "UTC"},
		OutboundMedium: &domain.OutboundMedium{Provider: "twilio", FromPhone: "+15551230000"},
		Contacts:       []ContactInput{{Name: "Alice", PhoneNumber: "+15550000001"}},
	}
}

func TestCreateRejectsMissingOutboundMedium(t *testing.T) {
	input := validOutboundInput()
	input.OutboundMedium = nil

	svc := NewService(newFakeStore())
	if _, err := svc.Create(context.Background(), input); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsMissingSchedule(t *testing.T) {
	input := validOutboundInput()
	input.Schedule = nil

	svc := NewService(newFakeStore())
	if _, err := svc.Create(context.Background(), input); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateAssignsPendingContactsInDraft(t *testing.T) {
	svc := NewService(newFakeStore())
	campaign, err := svc.Create(context.Background(), validOutboundInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Errorf("expected draft status, got %s", campaign.Status)
	}
	if len(campaign.Contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(campaign.Contacts))
	}
	if campaign.Contacts[0].CallStatus != domain.CallStatusPending {
		t.Errorf("expected pending contact, got %s", campaign.Contacts[0].CallStatus)
	}
	if campaign.Contacts[0].ContactID == "" {
		t.Errorf("expected a generated contact id")
	}
}

func TestUpdateAppendsContactsWithoutDroppingExisting(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	campaign, err := svc.Create(context.Background(), validOutboundInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.Update(context.Background(), campaign.ID, UpdateCampaignInput{
		AppendContacts: []ContactInput{{Name: "Bob", PhoneNumber: "+15550000002"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Contacts) != 2 {
		t.Fatalf("expected 2 contacts after append, got %d", len(updated.Contacts))
	}
}

func TestUpdateRejectsClearingOutboundMedium(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	campaign, err := svc.Create(context.Background(), validOutboundInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	campaign.OutboundMedium = nil
	store.campaigns[campaign.ID] = campaign

	if _, err := svc.Update(context.Background(), campaign.ID, UpdateCampaignInput{}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
