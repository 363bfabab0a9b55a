package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/campaign-orchestrator/internal/domain"
	apperrors "github.com/acme/campaign-orchestrator/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint or optimistic-concurrency violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignStore is the durable store for campaigns and their embedded
// contact lists. ClaimPendingContact is the system's sole serialization
// point (§4.2); every other mutation is a plain read-modify-write guarded
// by the caller (processing latch or administrative handler).
type CampaignStore interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, pausedReason string) error

	// ListByUserAndStatus returns a user's outbound campaigns in a given status.
	ListByUserAndStatus(ctx context.Context, userID uuid.UUID, status domain.CampaignStatus) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)

	// ActiveUserIDs returns the distinct set of users with at least one
	// outbound campaign in CampaignStatusActive.
	ActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)

	// ClaimPendingContact performs the single conditional write described in
	// §4.2: atomically finds the first pending Contact in campaignID, flips
	// it to in-progress, stamps calledAt, and returns it. Returns
	// (nil, nil) when no pending Contact exists.
	ClaimPendingContact(ctx context.Context, campaignID uuid.UUID) (*domain.Contact, error)

	// UpdateContact applies a full replacement of one contact's mutable fields.
	UpdateContact(ctx context.Context, campaignID uuid.UUID, contact domain.Contact) error

	// ResetInProgressContacts transitions every in-progress Contact across a
	// user's outbound campaigns to failed with the given notes, returning
	// the count affected. Backs resetUserCallState (§4.8).
	ResetInProgressContacts(ctx context.Context, userID uuid.UUID, notes string) (int, error)

	// ContactsSummary groups one campaign's contacts by callStatus.
	ContactsSummary(ctx context.Context, campaignID uuid.UUID) (domain.CampaignContactsSummary, error)

	// IncrementTotals atomically bumps a campaign's completed/successful/failed counters.
	IncrementTotals(ctx context.Context, campaignID uuid.UUID, delta CampaignTotalsDelta) error

	// FindContactByEngineCallID resolves a terminal webhook's engineCallId
	// back to the owning campaign and Contact.
	FindContactByEngineCallID(ctx context.Context, engineCallID string) (campaignID uuid.UUID, contact *domain.Contact, err error)
}

// CampaignTotalsDelta captures the counter increments applied when a
// Contact reaches a terminal status.
type CampaignTotalsDelta struct {
	CompletedDelta  int
	SuccessfulDelta int
	FailedDelta     int
}

// UserSettingsStore resolves per-user concurrency caps and telephony
// credentials. Read-only from this system's perspective.
type UserSettingsStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error)
}

// CallHistoryStore persists one durable row per initiated call, keyed by the
// voice engine's call id. The ephemeral ActiveCallRecord index lives in
// internal/budget against Redis instead. On a cold cache only the per-user
// active-call count is rebuilt (from CampaignStore's in-progress Contacts and
// UserSettingsStore); the record index itself is not rebuilt.
type CallHistoryStore interface {
	Create(ctx context.Context, record *domain.CallHistory) error
	Get(ctx context.Context, callID string) (*domain.CallHistory, error)
	Update(ctx context.Context, record *domain.CallHistory) error

	// AppendAttempt records one CallAttempt against an existing call. Order
	// is not load-bearing for scheduler semantics; it exists purely for
	// observability of a call's lifecycle.
	AppendAttempt(ctx context.Context, callID string, attempt domain.CallAttempt) error
}
