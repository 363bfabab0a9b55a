package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/callinit"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/reaper"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/telephony"
	"github.com/acme/campaign-orchestrator/internal/voiceengine"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

type fakeCampaignStore struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeCampaignStore(campaigns ...*domain.Campaign) *fakeCampaignStore {
	store := &fakeCampaignStore{campaigns: map[uuid.UUID]*domain.Campaign{}}
	for _, c := range campaigns {
		store.campaigns[c.ID] = c
	}
	return store
}

func (f *fakeCampaignStore) Create(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaignStore) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if c, ok := f.campaigns[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}
func (f *fakeCampaignStore) Update(_ context.Context, c *domain.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}
func (f *fakeCampaignStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus, reason string) error {
	c, ok := f.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	c.PausedReason = reason
	return nil
}
func (f *fakeCampaignStore) ListByUserAndStatus(_ context.Context, userID uuid.UUID, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.UserID == userID && c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCampaignStore) ListByStatus(_ context.Context, status domain.CampaignStatus, _ int) ([]*domain.Campaign, error) {
	var out []*domain.Campaign
	for _, c := range f.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCampaignStore) ActiveUserIDs(_ context.Context) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, c := range f.campaigns {
		if c.Status == domain.CampaignStatusActive && !seen[c.UserID] {
			seen[c.UserID] = true
			out = append(out, c.UserID)
		}
	}
	return out, nil
}
func (f *fakeCampaignStore) ClaimPendingContact(_ context.Context, campaignID uuid.UUID) (*domain.Contact, error) {
	c, ok := f.campaigns[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for i := range c.Contacts {
		if c.Contacts[i].CallStatus == domain.CallStatusPending {
			c.Contacts[i].CallStatus = domain.CallStatusInProgress
			claimed := c.Contacts[i]
			return &claimed, nil
		}
	}
	return nil, nil
}
func (f *fakeCampaignStore) UpdateContact(_ context.Context, campaignID uuid.UUID, contact domain.Contact) error {
	c, ok := f.campaigns[campaignID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range c.Contacts {
		if c.Contacts[i].ContactID == contact.ContactID {
			c.Contacts[i] = contact
			return nil
		}
	}
	return nil
}
func (f *fakeCampaignStore) ResetInProgressContacts(context.Context, uuid.UUID, string) (int, error) {
	return 0, nil
}
func (f *fakeCampaignStore) ContactsSummary(_ context.Context, campaignID uuid.UUID) (domain.CampaignContactsSummary, error) {
	c, ok := f.campaigns[campaignID]
	if !ok {
		return domain.CampaignContactsSummary{}, repository.ErrNotFound
	}
	summary := domain.CampaignContactsSummary{CampaignID: c.ID, Status: c.Status}
	for _, contact := range c.Contacts {
		switch contact.CallStatus {
		case domain.CallStatusPending:
			summary.Pending++
		case domain.CallStatusInProgress:
			summary.InProgress++
		case domain.CallStatusCompleted:
			summary.Completed++
		case domain.CallStatusFailed:
			summary.Failed++
		case domain.CallStatusNoAnswer:
			summary.NoAnswer++
		}
	}
	return summary, nil
}
func (f *fakeCampaignStore) IncrementTotals(context.Context, uuid.UUID, repository.CampaignTotalsDelta) error {
	return nil
}
func (f *fakeCampaignStore) FindContactByEngineCallID(context.Context, string) (uuid.UUID, *domain.Contact, error) {
	return uuid.Nil, nil, repository.ErrNotFound
}

type fakeUserSettings struct {
	max int
}

func (f fakeUserSettings) Get(_ context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	return &domain.UserSettings{
		UserID:             userID,
		MaxConcurrentCalls: f.max,
		Telephony:          map[string]domain.TelephonyCredential{"mock": {Provider: "mock"}},
	}, nil
}

type fakeEngine struct{ calls int }

func (f *fakeEngine) CreateCall(context.Context, voiceengine.CreateCallRequest) (voiceengine.CreateCallResponse, error) {
	f.calls++
	return voiceengine.CreateCallResponse{EngineCallID: uuid.NewString(), JoinURL: "wss://engine/join"}, nil
}
func (f *fakeEngine) GetCallDetails(context.Context, string) (voiceengine.CallDetails, error) {
	return voiceengine.CallDetails{}, nil
}
func (f *fakeEngine) CreateWebhook(context.Context, string, []string, string, string) (string, error) {
	return "", nil
}
func (f *fakeEngine) DeleteWebhook(context.Context, string) error { return nil }

type fakeProvider struct{ bridged int }

func (f *fakeProvider) Bridge(context.Context, telephony.BridgeRequest) error {
	f.bridged++
	return nil
}

type fakeHistoryStore struct {
	records map[string]*domain.CallHistory
}

func (f *fakeHistoryStore) Create(_ context.Context, record *domain.CallHistory) error {
	f.records[record.CallID] = record
	return nil
}
func (f *fakeHistoryStore) Get(_ context.Context, callID string) (*domain.CallHistory, error) {
	r, ok := f.records[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}
func (f *fakeHistoryStore) Update(_ context.Context, record *domain.CallHistory) error {
	f.records[record.CallID] = record
	return nil
}
func (f *fakeHistoryStore) AppendAttempt(_ context.Context, callID string, attempt domain.CallAttempt) error {
	f.records[callID].Attempts = append(f.records[callID].Attempts, attempt)
	return nil
}

type fakeWaker struct{}

func (fakeWaker) WakeUserAfter(context.Context, string, time.Duration) error { return nil }

func newTestLoop(t *testing.T, campaigns *fakeCampaignStore, maxConcurrent int, engine *fakeEngine, provider *fakeProvider) *Loop {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lg := &logger.Logger{Logger: zap.NewNop()}
	budgetStore := budget.NewStore(client, campaigns, fakeUserSettings{max: maxConcurrent}, maxConcurrent, time.Minute)
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{}}
	initiator := callinit.New(campaigns, fakeUserSettings{max: maxConcurrent}, history, budgetStore, engine, telephony.Registry{"mock": provider}, callinit.Config{MaxDuration: 10 * time.Minute}, lg)
	reap := reaper.New(campaigns, budgetStore, fakeWaker{}, time.Hour, time.Second, lg)

	return New(campaigns, budgetStore, reap, initiator, time.Minute, 100, 0, lg)
}

func newOutboundCampaign(userID uuid.UUID, contactCount int) *domain.Campaign {
	contacts := make([]domain.Contact, contactCount)
	for i := range contacts {
		contacts[i] = domain.Contact{ContactID: uuid.NewString(), Name: "c", PhoneNumber: "+15550000000", CallStatus: domain.CallStatusPending}
	}
	return &domain.Campaign{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           domain.CampaignTypeOutbound,
		AgentRef:       "agent-1",
		Status:         domain.CampaignStatusActive,
		OutboundMedium: &domain.OutboundMedium{Provider: "mock", FromPhone: "+15559990000"},
		Contacts:       contacts,
	}
}

func TestProcessUserCallsStopsAtBudgetCap(t *testing.T) {
	userID := uuid.New()
	campaign := newOutboundCampaign(userID, 5)
	campaigns := newFakeCampaignStore(campaign)
	engine := &fakeEngine{}
	provider := &fakeProvider{}
	loop := newTestLoop(t, campaigns, 2, engine, provider)

	require.NoError(t, loop.ProcessUserCalls(context.Background(), userID))

	require.Equal(t, 2, engine.calls, "must dial exactly up to the budget cap, never beyond")
	require.Equal(t, 2, provider.bridged)

	inProgress := 0
	for _, c := range campaign.Contacts {
		if c.CallStatus == domain.CallStatusInProgress {
			inProgress++
		}
	}
	require.Equal(t, 2, inProgress)
}

func TestProcessUserCallsReentryIsNoopUnderLatch(t *testing.T) {
	userID := uuid.New()
	campaign := newOutboundCampaign(userID, 1)
	campaigns := newFakeCampaignStore(campaign)
	loop := newTestLoop(t, campaigns, 2, &fakeEngine{}, &fakeProvider{})

	ok, err := loop.budget.TryAcquireProcessingLatch(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, loop.ProcessUserCalls(context.Background(), userID))

	for _, c := range campaign.Contacts {
		require.Equal(t, domain.CallStatusPending, c.CallStatus, "a latched re-entrant call must not claim any contact")
	}
}

func TestTickParksActiveCampaignAtWindowClose(t *testing.T) {
	userID := uuid.New()
	campaign := newOutboundCampaign(userID, 1)
	campaign.Schedule = &domain.Schedule{ScheduledTime: "00:00", EndTime: "00:01", TimeZone: "UTC"}
	campaigns := newFakeCampaignStore(campaign)
	loop := newTestLoop(t, campaigns, 2, &fakeEngine{}, &fakeProvider{})

	require.NoError(t, loop.stopClosedWindows(context.Background()))
	require.Equal(t, domain.CampaignStatusPausedTimeWindow, campaign.Status)
}
