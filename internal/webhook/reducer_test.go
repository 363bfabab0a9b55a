package webhook

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
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

type fakeCampaignStore struct {
	campaign *domain.Campaign
	totals   repository.CampaignTotalsDelta
	status   domain.CampaignStatus
}

func (f *fakeCampaignStore) Create(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaignStore) Get(context.Context, uuid.UUID) (*domain.Campaign, error) {
	return f.campaign, nil
}
func (f *fakeCampaignStore) Update(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaignStore) UpdateStatus(_ context.Context, _ uuid.UUID, status domain.CampaignStatus, _ string) error {
	f.status = status
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
	summary := domain.CampaignContactsSummary{}
	for _, c := range f.campaign.Contacts {
		switch c.CallStatus {
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
func (f *fakeCampaignStore) IncrementTotals(_ context.Context, _ uuid.UUID, delta repository.CampaignTotalsDelta) error {
	f.totals.CompletedDelta += delta.CompletedDelta
	f.totals.SuccessfulDelta += delta.SuccessfulDelta
	f.totals.FailedDelta += delta.FailedDelta
	return nil
}
func (f *fakeCampaignStore) FindContactByEngineCallID(_ context.Context, engineCallID string) (uuid.UUID, *domain.Contact, error) {
	for i := range f.campaign.Contacts {
		if f.campaign.Contacts[i].EngineCallID == engineCallID {
			return f.campaign.ID, &f.campaign.Contacts[i], nil
		}
	}
	return uuid.Nil, nil, repository.ErrNotFound
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
	copied := *r
	return &copied, nil
}
func (f *fakeHistoryStore) Update(_ context.Context, record *domain.CallHistory) error {
	f.records[record.CallID] = record
	return nil
}
func (f *fakeHistoryStore) AppendAttempt(_ context.Context, callID string, attempt domain.CallAttempt) error {
	f.records[callID].Attempts = append(f.records[callID].Attempts, attempt)
	return nil
}

type fakeWaker struct {
	woken []string
}

func (f *fakeWaker) WakeUserAfter(_ context.Context, userID string, _ time.Duration) error {
	f.woken = append(f.woken, userID)
	return nil
}

func newTestReducer(t *testing.T, campaigns *fakeCampaignStore, history *fakeHistoryStore, waker Waker) *Reducer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	budgetStore := budget.NewStore(client, campaigns, noUserSettings{}, 2, time.Minute)
	return New(campaigns, history, budgetStore, waker, 50*time.Millisecond, "", &logger.Logger{Logger: zap.NewNop()})
}

type noUserSettings struct{}

func (noUserSettings) Get(context.Context, uuid.UUID) (*domain.UserSettings, error) {
	return nil, repository.ErrNotFound
}

func TestApplyUpdatesContactAndHistoryOnCompletion(t *testing.T) {
	userID := uuid.New()
	campaignID := uuid.New()
	campaign := &domain.Campaign{
		ID:     campaignID,
		UserID: userID,
		Status: domain.CampaignStatusActive,
		Contacts: []domain.Contact{
			{ContactID: "contact-1", EngineCallID: "engine-call-1", CallStatus: domain.CallStatusInProgress},
		},
	}
	campaigns := &fakeCampaignStore{campaign: campaign}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{
		"engine-call-1": {CallID: "engine-call-1", UserID: userID, Status: domain.CallStatusInProgress},
	}}
	waker := &fakeWaker{}
	reducer := newTestReducer(t, campaigns, history, waker)

	err := reducer.Apply(context.Background(), CallTerminated{
		EngineCallID:    "engine-call-1",
		Outcome:         OutcomeCompleted,
		DurationSeconds: 42,
		EndReason:       "hangup",
	})
	require.NoError(t, err)

	require.Equal(t, domain.CallStatusCompleted, campaign.Contacts[0].CallStatus)
	require.Equal(t, 42, campaign.Contacts[0].CallDuration)
	require.Equal(t, 1, campaigns.totals.CompletedDelta)
	require.Equal(t, 1, campaigns.totals.SuccessfulDelta)
	require.Equal(t, domain.CampaignStatusCompleted, campaigns.status)
	require.Len(t, waker.woken, 1)
	require.Equal(t, domain.CallStatusCompleted, history.records["engine-call-1"].Status)
	require.Len(t, history.records["engine-call-1"].Attempts, 1)
}

func TestApplyIsIdempotentOnDuplicateDelivery(t *testing.T) {
	userID := uuid.New()
	campaignID := uuid.New()
	campaign := &domain.Campaign{
		ID:     campaignID,
		UserID: userID,
		Status: domain.CampaignStatusActive,
		Contacts: []domain.Contact{
			{ContactID: "contact-1", EngineCallID: "engine-call-1", CallStatus: domain.CallStatusInProgress},
		},
	}
	campaigns := &fakeCampaignStore{campaign: campaign}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{
		"engine-call-1": {CallID: "engine-call-1", UserID: userID, Status: domain.CallStatusInProgress},
	}}
	waker := &fakeWaker{}
	reducer := newTestReducer(t, campaigns, history, waker)

	event := CallTerminated{EngineCallID: "engine-call-1", Outcome: OutcomeCompleted, DurationSeconds: 42, EndReason: "hangup"}
	require.NoError(t, reducer.Apply(context.Background(), event))
	require.NoError(t, reducer.Apply(context.Background(), event))

	require.Equal(t, 1, campaigns.totals.CompletedDelta, "totals must only be incremented once across duplicate deliveries")
	require.Len(t, history.records["engine-call-1"].Attempts, 1, "duplicate delivery must not append a second attempt")
}

func TestApplyIgnoresUnknownEngineCallID(t *testing.T) {
	campaigns := &fakeCampaignStore{campaign: &domain.Campaign{ID: uuid.New(), UserID: uuid.New()}}
	history := &fakeHistoryStore{records: map[string]*domain.CallHistory{}}
	reducer := newTestReducer(t, campaigns, history, &fakeWaker{})

	err := reducer.Apply(context.Background(), CallTerminated{EngineCallID: "unknown", Outcome: OutcomeCompleted})
	require.NoError(t, err)
}

func TestVerifySignatureDisabledWithoutKey(t *testing.T) {
	reducer := &Reducer{}
	require.True(t, reducer.VerifySignature([]byte("body"), "anything"))
}
