package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
)

type fakeUserSettings struct {
	settings map[uuid.UUID]*domain.UserSettings
}

func (f *fakeUserSettings) Get(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

// emptyCampaignStore has no active campaigns, so Active's rebuild path
// always lands on a count of zero without needing a real store.
type emptyCampaignStore struct{}

func (emptyCampaignStore) Create(context.Context, *domain.Campaign) error { return nil }
func (emptyCampaignStore) Get(context.Context, uuid.UUID) (*domain.Campaign, error) {
	return nil, repository.ErrNotFound
}
func (emptyCampaignStore) Update(context.Context, *domain.Campaign) error { return nil }
func (emptyCampaignStore) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus, string) error {
	return nil
}
func (emptyCampaignStore) ListByUserAndStatus(context.Context, uuid.UUID, domain.CampaignStatus) ([]*domain.Campaign, error) {
	return nil, nil
}
func (emptyCampaignStore) ListByStatus(context.Context, domain.CampaignStatus, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (emptyCampaignStore) ActiveUserIDs(context.Context) ([]uuid.UUID, error) { return nil, nil }
func (emptyCampaignStore) ClaimPendingContact(context.Context, uuid.UUID) (*domain.Contact, error) {
	return nil, nil
}
func (emptyCampaignStore) UpdateContact(context.Context, uuid.UUID, domain.Contact) error { return nil }
func (emptyCampaignStore) ResetInProgressContacts(context.Context, uuid.UUID, string) (int, error) {
	return 0, nil
}
func (emptyCampaignStore) ContactsSummary(context.Context, uuid.UUID) (domain.CampaignContactsSummary, error) {
	return domain.CampaignContactsSummary{}, nil
}
func (emptyCampaignStore) IncrementTotals(context.Context, uuid.UUID, repository.CampaignTotalsDelta) error {
	return nil
}
func (emptyCampaignStore) FindContactByEngineCallID(context.Context, string) (uuid.UUID, *domain.Contact, error) {
	return uuid.Nil, nil, repository.ErrNotFound
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	settings := &fakeUserSettings{settings: map[uuid.UUID]*domain.UserSettings{}}
	store := NewStore(client, emptyCampaignStore{}, settings, 2, time.Minute)
	return store, mr
}

func TestAcquireRespectsMax(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()
	userID := uuid.New()

	ok, err := store.Acquire(ctx, userID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Acquire(ctx, userID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Acquire(ctx, userID, 2)
	require.NoError(t, err)
	require.False(t, ok, "third acquire should be rejected at cap 2")
}

func TestReleaseFloorsAtZero(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.Release(ctx, userID))
	require.NoError(t, store.Release(ctx, userID))

	active, err := store.Active(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, active)
}

func TestProcessingLatchExcludesReentry(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()
	userID := uuid.New()

	ok, err := store.TryAcquireProcessingLatch(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryAcquireProcessingLatch(ctx, userID)
	require.NoError(t, err)
	require.False(t, ok, "re-entrant latch attempt must not succeed")

	require.NoError(t, store.ReleaseProcessingLatch(ctx, userID))

	ok, err = store.TryAcquireProcessingLatch(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok, "latch should be acquirable again after release")
}

func TestActiveCallRecordLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	ctx := context.Background()
	userID := uuid.New()
	campaignID := uuid.New()
	startedAt := time.Now().Add(-20 * time.Minute).UTC()

	pendingKey := PendingCallKey(campaignID, "contact-1")
	require.NoError(t, store.PutActiveCallRecord(ctx, ActiveCallRecord{
		Key: pendingKey, UserID: userID, CampaignID: campaignID, ContactID: "contact-1", StartedAt: startedAt,
	}))

	records, err := store.ActiveCallRecords(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, pendingKey, records[0].Key)

	require.NoError(t, store.RenameActiveCallRecord(ctx, userID, pendingKey, "engine-call-123"))
	records, err = store.ActiveCallRecords(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "engine-call-123", records[0].Key)

	stale, err := store.StaleActiveCallRecords(ctx, time.Now(), 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "engine-call-123", stale[0].Key)

	require.NoError(t, store.DropActiveCallRecord(ctx, userID, "engine-call-123"))
	records, err = store.ActiveCallRecords(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, records)

	// Dropping twice must be a no-op.
	require.NoError(t, store.DropActiveCallRecord(ctx, userID, "engine-call-123"))
}
