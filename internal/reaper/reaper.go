// Package reaper implements StaleCallReaper (§4.6): the sweep that fails
// calls whose external leg never reported a terminal webhook.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/domain"
	"github.com/acme/campaign-orchestrator/internal/repository"
	"github.com/acme/campaign-orchestrator/internal/webhook"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

// staleCallTimeoutNotes is the fixed notes string §4.6 step 3 specifies.
const staleCallTimeoutNotes = "call timed out"

// Reaper sweeps for stale ActiveCallRecords at the start of each scheduler tick.
type Reaper struct {
	campaigns repository.CampaignStore
	budget    *budget.Store
	waker     webhook.Waker
	threshold time.Duration
	wakeDelay time.Duration
	log       *logger.Logger
}

// New constructs a Reaper. threshold is the §4.6 15-minute staleness bound.
func New(campaigns repository.CampaignStore, budgetStore *budget.Store, waker webhook.Waker, threshold, wakeDelay time.Duration, log *logger.Logger) *Reaper {
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	if wakeDelay <= 0 {
		wakeDelay = time.Second
	}
	return &Reaper{
		campaigns: campaigns,
		budget:    budgetStore,
		waker:     waker,
		threshold: threshold,
		wakeDelay: wakeDelay,
		log:       log,
	}
}

// Sweep runs the four steps of §4.6 against every ActiveCallRecord older
// than the staleness threshold, across all users.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stale, err := r.budget.StaleActiveCallRecords(ctx, now, r.threshold)
	if err != nil {
		return 0, fmt.Errorf("reaper: list stale active call records: %w", err)
	}

	reaped := 0
	for _, rec := range stale {
		if err := r.reapOne(ctx, rec); err != nil {
			r.log.Warn("reaper: failed to reap stale call",
				zap.String("key", rec.Key),
				zap.String("campaignId", rec.CampaignID.String()),
				zap.String("contactId", rec.ContactID),
				zap.Error(err),
			)
			continue
		}
		reaped++
	}
	return reaped, nil
}

func (r *Reaper) reapOne(ctx context.Context, rec budget.ActiveCallRecord) error {
	// Step 1: drop the record.
	if err := r.budget.DropActiveCallRecord(ctx, rec.UserID, rec.Key); err != nil {
		return fmt.Errorf("drop active call record: %w", err)
	}

	// Step 2: release the owning user's budget slot.
	if err := r.budget.Release(ctx, rec.UserID); err != nil {
		return fmt.Errorf("release budget slot: %w", err)
	}

	// Step 3: transition the Contact to failed.
	campaign, err := r.campaigns.Get(ctx, rec.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	contact, found := findContact(campaign, rec.ContactID)
	if !found {
		// Already reconciled by some other path; nothing left to fail.
		return r.scheduleWake(ctx, rec.UserID)
	}
	if contact.CallStatus.IsTerminal() {
		return r.scheduleWake(ctx, rec.UserID)
	}
	contact.CallStatus = domain.CallStatusFailed
	contact.CallNotes = staleCallTimeoutNotes
	now := time.Now().UTC()
	contact.CalledAt = &now
	if err := r.campaigns.UpdateContact(ctx, rec.CampaignID, contact); err != nil {
		return fmt.Errorf("mark contact failed: %w", err)
	}
	if err := r.campaigns.IncrementTotals(ctx, rec.CampaignID, repository.CampaignTotalsDelta{
		CompletedDelta: 1,
		FailedDelta:    1,
	}); err != nil {
		return fmt.Errorf("increment campaign totals: %w", err)
	}

	// Step 4: schedule a delayed wake.
	return r.scheduleWake(ctx, rec.UserID)
}

func (r *Reaper) scheduleWake(ctx context.Context, userID uuid.UUID) error {
	if r.waker == nil {
		return nil
	}
	if err := r.waker.WakeUserAfter(ctx, userID.String(), r.wakeDelay); err != nil {
		return fmt.Errorf("schedule wake: %w", err)
	}
	return nil
}

func findContact(campaign *domain.Campaign, contactID string) (domain.Contact, bool) {
	for _, c := range campaign.Contacts {
		if c.ContactID == contactID {
			return c, true
		}
	}
	return domain.Contact{}, false
}
