package callinit

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
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/telephony"
	"github.com/acme/campaign-orchestrator/internal/voiceengine"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

type fakeCampaignStore struct {
	campaign *domain.Campaign
}

func (f *fakeCampaignStore) Create(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaignStore) Get(context.Context, uuid.UUID) (*domain.Campaign, error) {
	return f.campaign, nil
}
func (f *fakeCampaignStore) Update(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaignStore) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus, string) error {
	return nil
}
func (f *fakeCampaignStore) ListByUserAndStatus(context.Context, uuid.UUID, domain.CampaignStatus) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaignStore) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaignStore) ActiveUserIDs(context.Context) ([]uuid.UUID, error) { return nil, nil }
func (f *fakeCampaignStore) ClaimPendingContact(context.Context, uuid.UUID) (*domain.Contact, error) {
	return nil, nil
}
func (f *fakeCampaignStore) UpdateContact(_ context.Context, _ uuid.UUID, contact domain.Contact) error {
	for i := range f.campaign.Contacts {
		if f.campaign.Contacts[i].ContactID == contact.ContactID {
			f.campaign.Contacts[i] = contact
			return nil
		}
	}
	return nil
}
func (f *fakeCampaignStore) ResetInProgressContacts(context.Context, uuid.UUID, string) (int, error) {
	return 0, nil
}
func (f *fakeCampaignStore) ContactsSummary(context.Context, uuid.UUID) (domain.CampaignContactsSummary, error) {
	return domain.CampaignContactsSummary{}, nil
}
func (f *fakeCampaignStore) IncrementTotals(context.Context, uuid.UUID, repository.CampaignTotalsDelta) error {
	return nil
}
func (f *fakeCampaignStore) FindContactByEngineCallID(context.Context, string) (uuid.UUID, *domain.Contact, error) {
	return uuid.Nil, nil, repository.ErrNotFound
}

type fakeUserSettings struct {
	settings *domain.UserSettings
}

func (f *fakeUserSettings) Get(context.Context, uuid.UUID) (*domain.UserSettings, error) {
	if f.settings == nil {
		return nil, repository.ErrNotFound
	}
	return f.settings, nil
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

type fakeEngine struct {
	createErr error
}

func (f *fakeEngine) CreateCall(context.Context, voiceengine.CreateCallRequest) (voiceengine.CreateCallResponse, error) {
	if f.createErr != nil {
		return voiceengine.CreateCallResponse{}, f.createErr
	}
	return voiceengine.CreateCallResponse{EngineCallID: "engine-call-1", JoinURL: "wss://engine/join/1"}, nil
}
func (f *fakeEngine) GetCallDetails(context.Context, string) (voiceengine.CallDetails, error) {
	return voiceengine.CallDetails{}, nil
}
func (f *fakeEngine) CreateWebhook(context.Context, string, []string, string, string) (string, error) {
	return "", nil
}
func (f *fakeEngine) DeleteWebhook(context.Context, string) error { return nil }

type fakeProvider struct {
	bridgeErr error
	bridged   []telephony.BridgeRequest
}

func (f *fakeProvider) Bridge(_ context.Context, req telephony.BridgeRequest) error {
	f.bridged = append(f.bridged, req)
	return f.bridgeErr
}

func newTestInitiator(t *testing.T, campaigns *fakeCampaignStore, settings *fakeUserSettings, history *fakeHistoryStore, engine voiceengine.Client, providers telephony.Registry) *Initiator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	budgetStore := budget.NewStore(client, campaigns, settings, 2, time.Minute)
	return New(campaigns, settings, history, budgetStore, engine, providers, Config{MaxDuration: 10 * time.Minute}, &logger.Logger{Logger: zap.NewNop()})
}

func baseCampaign() (*domain.Campaign, domain.Contact) {
	contact := domain.Contact{ContactID: "contact-1", Name: "Alice", PhoneNumber: "+15550001111", CallStatus: domain.CallStatusInProgress}
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Type:           domain.CampaignTypeOutbound,
		AgentRef:       "agent-1",
		Status:         domain.CampaignStatusActive,
		OutboundMedium: &domain.OutboundMedium{Provider: "mock", FromPhone: "+15559990000"},
		Contacts:       []domain.Contact{contact},
	}
	return campaign, contact
}

func TestInitiateBridgesCallOnHappyPath(t *testing.T) {
	campaign, contact := baseCampaign()
	campaigns := &fakeCampaignStore{campaign: campaign}
	settings := &fakeUserSettings{settings: &domain.UserSettings{
		UserID:             campaign.UserID,
		MaxConcurrentCalls: 2,
		Telephony:          map[string]domain.TelephonyCredential{"mock": {Provider: "mock"}},
	}}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{}}
	provider := &fakeProvider{}
	initiator := newTestInitiator(t, campaigns, settings, history, &fakeEngine{}, telephony.Registry{"mock": provider})

	err := initiator.Initiate(context.Background(), campaign, contact)
	require.NoError(t, err)

	require.Equal(t, "engine-call-1", campaign.Contacts[0].EngineCallID)
	require.Len(t, provider.bridged, 1)
	require.Equal(t, "contact-1", provider.bridged[0].CorrelationTags["contactId"])
	require.Contains(t, history.records, "engine-call-1")
	require.Len(t, history.records["engine-call-1"].Attempts, 1)
}

func TestInitiateFailsContactWithoutChargingBudgetOnMissingCredentials(t *testing.T) {
	campaign, contact := baseCampaign()
	campaigns := &fakeCampaignStore{campaign: campaign}
	settings := &fakeUserSettings{settings: &domain.UserSettings{UserID: campaign.UserID, MaxConcurrentCalls: 2}}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{}}
	provider := &fakeProvider{}
	initiator := newTestInitiator(t, campaigns, settings, history, &fakeEngine{}, telephony.Registry{"mock": provider})

	err := initiator.Initiate(context.Background(), campaign, contact)
	require.NoError(t, err)

	require.Equal(t, domain.CallStatusFailed, campaign.Contacts[0].CallStatus)
	require.Empty(t, provider.bridged, "a validation failure must never reach the telephony bridge")

	available, err := initiator.budget.Available(context.Background(), campaign.UserID)
	require.NoError(t, err)
	require.Equal(t, 2, available, "a Contact that fails validation must never consume a budget slot")
}

func TestInitiateAbortsAndReleasesSlotOnEngineFailure(t *testing.T) {
	campaign, contact := baseCampaign()
	campaigns := &fakeCampaignStore{campaign: campaign}
	settings := &fakeUserSettings{settings: &domain.UserSettings{
		UserID:             campaign.UserID,
		MaxConcurrentCalls: 2,
		Telephony:          map[string]domain.TelephonyCredential{"mock": {Provider: "mock"}},
	}}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{}}
	provider := &fakeProvider{}
	engine := &fakeEngine{createErr: context.DeadlineExceeded}
	initiator := newTestInitiator(t, campaigns, settings, history, engine, telephony.Registry{"mock": provider})

	err := initiator.Initiate(context.Background(), campaign, contact)
	require.NoError(t, err)

	require.Equal(t, domain.CallStatusFailed, campaign.Contacts[0].CallStatus)
	available, err := initiator.budget.Available(context.Background(), campaign.UserID)
	require.NoError(t, err)
	require.Equal(t, 2, available, "an aborted attempt must release the slot it provisionally acquired")
}
