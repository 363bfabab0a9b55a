package reaper

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
func (f *fakeCampaignStore) IncrementTotals(_ context.Context, _ uuid.UUID, delta repository.CampaignTotalsDelta) error {
	f.totals.CompletedDelta += delta.CompletedDelta
	f.totals.FailedDelta += delta.FailedDelta
	return nil
}
func (f *fakeCampaignStore) FindContactByEngineCallID(context.Context, string) (uuid.UUID, *domain.Contact, error) {
	return uuid.Nil, nil, repository.ErrNotFound
}

type fakeUserSettings struct{}

func (fakeUserSettings) Get(context.Context, uuid.UUID) (*domain.UserSettings, error) {
	return nil, repository.ErrNotFound
}

type fakeWaker struct{ woken []string }

func (f *fakeWaker) WakeUserAfter(_ context.Context, userID string, _ time.Duration) error {
	f.woken = append(f.woken, userID)
	return nil
}

func newTestReaper(t *testing.T, campaigns *fakeCampaignStore, waker *fakeWaker) (*Reaper, *budget.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	budgetStore := budget.NewStore(client, campaigns, fakeUserSettings{}, 2, time.Minute)
	return New(campaigns, budgetStore, waker, time.Minute, 50*time.Millisecond, &logger.Logger{Logger: zap.NewNop()}), budgetStore
}

func TestSweepFailsStaleInProgressContactAndReleasesSlot(t *testing.T) {
	userID := uuid.New()
	campaignID := uuid.New()
	campaign := &domain.Campaign{
		ID:     campaignID,
		UserID: userID,
		Contacts: []domain.Contact{
			{ContactID: "contact-1", CallStatus: domain.CallStatusInProgress},
		},
	}
	campaigns := &fakeCampaignStore{campaign: campaign}
	waker := &fakeWaker{}
	r, budgetStore := newTestReaper(t, campaigns, waker)

	require.NoError(t, budgetStore.PutActiveCallRecord(context.Background(), budget.ActiveCallRecord{
		Key:        "engine-call-1",
		UserID:     userID,
		CampaignID: campaignID,
		ContactID:  "contact-1",
		StartedAt:  time.Now().UTC().Add(-time.Hour),
	}))

	reaped, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	require.Equal(t, domain.CallStatusFailed, campaign.Contacts[0].CallStatus)
	require.Equal(t, 1, campaigns.totals.CompletedDelta)
	require.Equal(t, 1, campaigns.totals.FailedDelta)
	require.Len(t, waker.woken, 1)

	remaining, err := budgetStore.StaleActiveCallRecords(context.Background(), time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestSweepSkipsRecordsYoungerThanThreshold(t *testing.T) {
	userID := uuid.New()
	campaignID := uuid.New()
	campaign := &domain.Campaign{
		ID:     campaignID,
		UserID: userID,
		Contacts: []domain.Contact{
			{ContactID: "contact-1", CallStatus: domain.CallStatusInProgress},
		},
	}
	campaigns := &fakeCampaignStore{campaign: campaign}
	r, budgetStore := newTestReaper(t, campaigns, &fakeWaker{})

	require.NoError(t, budgetStore.PutActiveCallRecord(context.Background(), budget.ActiveCallRecord{
		Key:        "engine-call-1",
		UserID:     userID,
		CampaignID: campaignID,
		ContactID:  "contact-1",
		StartedAt:  time.Now().UTC(),
	}))

	reaped, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, reaped)
	require.Equal(t, domain.CallStatusInProgress, campaign.Contacts[0].CallStatus)
}

func TestSweepLeavesAlreadyTerminalContactUntouched(t *testing.T) {
	userID := uuid.New()
	campaignID := uuid.New()
	campaign := &domain.Campaign{
		ID:     campaignID,
		UserID: userID,
		Contacts: []domain.Contact{
			{ContactID: "contact-1", CallStatus: domain.CallStatusCompleted, CallDuration: 30},
		},
	}
	campaigns := &fakeCampaignStore{campaign: campaign}
	r, budgetStore := newTestReaper(t, campaigns, &fakeWaker{})

	require.NoError(t, budgetStore.PutActiveCallRecord(context.Background(), budget.ActiveCallRecord{
		Key:        "engine-call-1",
		UserID:     userID,
		CampaignID: campaignID,
		ContactID:  "contact-1",
		StartedAt:  time.Now().UTC().Add(-time.Hour),
	}))

	_, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.CallStatusCompleted, campaign.Contacts[0].CallStatus)
	require.Equal(t, 30, campaign.Contacts[0].CallDuration, "a contact already finalized by the webhook path must not be rewritten")
}
